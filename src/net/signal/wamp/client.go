package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/sirupsen/logrus"
)

// Client implements the Signal interface. It publishes and receives signaling
// messages through a WAMP router.
type Client struct {
	sync.Mutex
	id        string
	config    client.Config
	client    *client.Client
	room      string
	consumer  chan signal.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *logrus.Entry
}

// NewClient instantiates a new Client, and opens a connection to the WAMP
// signaling server over secured web-sockets.
func NewClient(
	server string,
	realm string,
	id string,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	tlscfg, err := tlsConfig(caFile, insecureSkipVerify, logger)
	if err != nil {
		return nil, err
	}

	cfg.TlsCfg = tlscfg

	cli, err := client.ConnectNet(
		context.Background(),
		fmt.Sprintf("wss://%s", server),
		cfg,
	)
	if err != nil {
		return nil, err
	}

	return newClient(id, cfg, cli, logger), nil
}

// NewLocalClient instantiates a Client connected to a router embedded in the
// same process.
func NewLocalClient(
	r router.Router,
	realm string,
	id string,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	cli, err := client.ConnectLocal(r, cfg)
	if err != nil {
		return nil, err
	}

	return newClient(id, cfg, cli, logger), nil
}

func newClient(id string, cfg client.Config, cli *client.Client, logger *logrus.Entry) *Client {
	return &Client{
		id:       id,
		config:   cfg,
		client:   cli,
		consumer: make(chan signal.Message, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by signal server.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); os.IsNotExist(err) {
		logger.Debugf("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	// Load PEM-encoded certificate to trust.
	certPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	// Create CertPool containing the certificate to trust.
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}

	// Trust the certificate by putting it into the pool of root CAs.
	tlscfg.RootCAs = roots

	// Decode and parse the server cert to extract the subject info.
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

	// Set ServerName in TLS config to CN from trusted cert so that
	// certificate will validate if CN does not match DNS name.
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}

// ID implements the Signal interface.
func (c *Client) ID() string {
	return c.id
}

// Join implements the Signal interface. It subscribes to the room topic and to
// the topic of directed messages before calling the join procedure, so that no
// message published after the snapshot is missed.
func (c *Client) Join(room string, displayName string) error {
	if err := c.client.Subscribe(RoomTopic(room), c.eventHandler, nil); err != nil {
		return err
	}

	if err := c.client.Subscribe(PeerTopic(room, c.id), c.eventHandler, nil); err != nil {
		return err
	}

	c.Lock()
	c.room = room
	c.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ResponseTimeout)
	defer cancel()

	result, err := c.client.Call(
		ctx,
		ProcJoin,
		wamp.Dict{optDiscloseMe: true},
		wamp.List{room, c.id, displayName},
		nil,
		nil,
	)
	if err != nil {
		c.logger.WithError(err).Error("Calling join procedure")
		return err
	}

	if len(result.Arguments) != 1 {
		return fmt.Errorf("join result should contain 1 argument, not %d", len(result.Arguments))
	}

	raw, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return errors.New("Error reading join result")
	}

	peers := []signal.PeerInfo{}
	if err := json.Unmarshal([]byte(raw), &peers); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"room":  room,
		"peers": len(peers),
	}).Debug("Joined room")

	c.deliver(signal.Message{
		Type:  signal.ExistingUsers,
		Room:  room,
		Peers: peers,
	})

	return nil
}

// Send implements the Signal interface.
func (c *Client) Send(msg signal.Message) error {
	c.Lock()
	room := c.room
	c.Unlock()

	if room == "" {
		return errors.New("not in a room")
	}

	msg.From = c.id
	msg.Room = room

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic := RoomTopic(room)
	if msg.Directed() {
		topic = PeerTopic(room, msg.To)
	}

	return c.client.Publish(topic, nil, wamp.List{string(raw)}, nil)
}

// Consumer implements the Signal interface.
func (c *Client) Consumer() <-chan signal.Message {
	return c.consumer
}

// Close leaves the room and closes the connection to the WAMP server.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.Lock()
		room := c.room
		c.Unlock()

		if room != "" {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.ResponseTimeout)
			_, lerr := c.client.Call(ctx, ProcLeave, nil, wamp.List{room, c.id}, nil, nil)
			cancel()
			if lerr != nil {
				c.logger.WithError(lerr).Warn("Calling leave procedure")
			}

			c.client.Unsubscribe(PeerTopic(room, c.id))
			c.client.Unsubscribe(RoomTopic(room))
		}

		err = c.client.Close()
	})
	return err
}

// eventHandler is called when a message is published on one of the topics
// the client subscribed to.
func (c *Client) eventHandler(event *wamp.Event) {
	if len(event.Arguments) != 1 {
		c.logger.Warnf("Event should contain 1 argument, not %d", len(event.Arguments))
		return
	}

	raw, ok := wamp.AsString(event.Arguments[0])
	if !ok {
		c.logger.Warn("Error reading event argument")
		return
	}

	msg := signal.Message{}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.logger.WithError(err).Warn("Error parsing event")
		return
	}

	// The room service publishes user-connected for every join, including
	// ours.
	if msg.From == c.id {
		return
	}

	c.deliver(msg)
}

func (c *Client) deliver(msg signal.Message) {
	select {
	case c.consumer <- msg:
	case <-c.done:
	}
}
