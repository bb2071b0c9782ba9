// Package inmem implements the Signal interface in memory. A Hub plays the
// part of the signaling server for Clients living in the same process.
package inmem

import (
	"errors"
	"sort"
	"sync"

	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/sirupsen/logrus"
)

// ErrNotJoined is returned when a Client sends a message before joining a
// room.
var ErrNotJoined = errors.New("not in a room")

// Hub routes messages between the Clients connected to it.
type Hub struct {
	sync.RWMutex
	rooms  map[string]map[string]*Client
	logger *logrus.Entry
}

// NewHub ...
func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Client),
		logger: logger,
	}
}

// Connect returns a new Client identified by id.
func (h *Hub) Connect(id string) *Client {
	return &Client{
		hub:      h,
		id:       id,
		consumer: make(chan signal.Message, 64),
		done:     make(chan struct{}),
	}
}

// Members returns the participants of a room, sorted by id.
func (h *Hub) Members(room string) []signal.PeerInfo {
	h.RLock()
	defer h.RUnlock()
	return h.members(room, "")
}

func (h *Hub) members(room string, exclude string) []signal.PeerInfo {
	res := []signal.PeerInfo{}
	for id, c := range h.rooms[room] {
		if id == exclude {
			continue
		}
		res = append(res, signal.PeerInfo{ID: id, DisplayName: c.name})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

func (h *Hub) join(c *Client) {
	h.Lock()
	room, ok := h.rooms[c.room]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[c.room] = room
	}
	existing := h.members(c.room, c.id)
	room[c.id] = c
	others := h.peers(c.room, c.id)
	h.Unlock()

	h.logger.WithFields(logrus.Fields{
		"room": c.room,
		"peer": c.id,
	}).Debug("Join")

	c.deliver(signal.Message{
		Type:  signal.ExistingUsers,
		Room:  c.room,
		Peers: existing,
	})

	connected := signal.Message{
		Type:        signal.UserConnected,
		Room:        c.room,
		From:        c.id,
		DisplayName: c.name,
	}
	for _, o := range others {
		o.deliver(connected)
	}
}

func (h *Hub) leave(c *Client) {
	h.Lock()
	room := h.rooms[c.room]
	if room[c.id] != c {
		h.Unlock()
		return
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, c.room)
	}
	others := h.peers(c.room, c.id)
	h.Unlock()

	h.logger.WithFields(logrus.Fields{
		"room": c.room,
		"peer": c.id,
	}).Debug("Leave")

	disconnected := signal.Message{
		Type: signal.UserDisconnected,
		Room: c.room,
		From: c.id,
	}
	for _, o := range others {
		o.deliver(disconnected)
	}
}

func (h *Hub) route(msg signal.Message) {
	h.RLock()
	var targets []*Client
	if msg.Directed() {
		if t, ok := h.rooms[msg.Room][msg.To]; ok {
			targets = append(targets, t)
		}
	} else {
		targets = h.peers(msg.Room, msg.From)
	}
	h.RUnlock()

	if len(targets) == 0 && msg.Directed() {
		h.logger.WithFields(logrus.Fields{
			"room": msg.Room,
			"to":   msg.To,
			"type": msg.Type,
		}).Debug("Dropping message for unknown peer")
	}

	for _, t := range targets {
		t.deliver(msg)
	}
}

func (h *Hub) peers(room string, exclude string) []*Client {
	res := []*Client{}
	for id, c := range h.rooms[room] {
		if id != exclude {
			res = append(res, c)
		}
	}
	return res
}

// Client implements the Signal interface on top of a Hub.
type Client struct {
	sync.Mutex
	hub       *Hub
	id        string
	room      string
	name      string
	consumer  chan signal.Message
	done      chan struct{}
	closeOnce sync.Once
}

// ID implements the Signal interface.
func (c *Client) ID() string {
	return c.id
}

// Join implements the Signal interface.
func (c *Client) Join(room string, displayName string) error {
	c.Lock()
	c.room = room
	c.name = displayName
	c.Unlock()

	c.hub.join(c)

	return nil
}

// Send implements the Signal interface.
func (c *Client) Send(msg signal.Message) error {
	c.Lock()
	room := c.room
	c.Unlock()

	if room == "" {
		return ErrNotJoined
	}

	msg.From = c.id
	msg.Room = room

	c.hub.route(msg)

	return nil
}

// Consumer implements the Signal interface.
func (c *Client) Consumer() <-chan signal.Message {
	return c.consumer
}

// Close implements the Signal interface.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.Lock()
		joined := c.room != ""
		c.Unlock()

		if joined {
			c.hub.leave(c)
		}
	})
	return nil
}

func (c *Client) deliver(msg signal.Message) {
	select {
	case c.consumer <- msg:
	case <-c.done:
	}
}
