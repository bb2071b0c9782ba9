package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when sending through a Client that has not
// joined a room.
var ErrNotConnected = errors.New("not connected")

// Client implements the Signal interface with a WebSocket connection to a
// Relay.
type Client struct {
	mu        sync.Mutex
	url       string
	id        string
	conn      *websocket.Conn
	consumer  chan signal.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *logrus.Entry
}

// NewClient creates a Client for the relay listening at addr. The connection
// is opened by Join.
func NewClient(addr string, id string, logger *logrus.Entry) *Client {
	return &Client{
		url:      fmt.Sprintf("ws://%s", addr),
		id:       id,
		consumer: make(chan signal.Message, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// ID implements the Signal interface.
func (c *Client) ID() string {
	return c.id
}

// Join implements the Signal interface. It dials the relay and sends the
// join-room message.
func (c *Client) Join(room string, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already in a room")
	}

	joinURL := fmt.Sprintf("%s/ws/%s", c.url, url.PathEscape(room))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, resp, err := dialer.Dial(joinURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial error: %v (status: %s)", err, resp.Status)
		}
		return fmt.Errorf("websocket dial error: %w", err)
	}

	join := signal.Message{
		Type:        signal.JoinRoom,
		Room:        room,
		From:        c.id,
		DisplayName: displayName,
	}

	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn

	c.logger.WithField("url", joinURL).Debug("Connected to relay")

	go c.readLoop(conn)

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.WithError(err).Warn("Websocket read error")
			}
			return
		}

		msg := signal.Message{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WithError(err).Warn("Error parsing message")
			continue
		}

		select {
		case c.consumer <- msg:
		case <-c.done:
			return
		}
	}
}

// Send implements the Signal interface. The relay sets the sender and the room
// of the message.
func (c *Client) Send(msg signal.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	msg.From = c.id

	return c.conn.WriteJSON(msg)
}

// Consumer implements the Signal interface.
func (c *Client) Consumer() <-chan signal.Message {
	return c.consumer
}

// Close implements the Signal interface. The relay notifies the room when the
// connection closes.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn == nil {
			return
		}

		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)

		err = c.conn.Close()
		c.conn = nil
	})
	return err
}
