package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	joinWait   = 10 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// peerConn is the connection of one participant to the Relay.
type peerConn struct {
	id   string
	room string
	name string
	conn *websocket.Conn
	send chan []byte
}

// Relay is a WebSocket signaling server. It keeps the rooms in memory.
type Relay struct {
	sync.RWMutex
	rooms    map[string]map[string]*peerConn
	presence Presence
	engine   *gin.Engine
	server   *http.Server
	logger   *logrus.Entry
}

// NewRelay creates a Relay listening at address. presence may be nil.
func NewRelay(address string, presence Presence, logger *logrus.Entry) *Relay {
	r := &Relay{
		rooms:    make(map[string]map[string]*peerConn),
		presence: presence,
		logger:   logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), r.logRequests)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/rooms/:room", r.getRoom)
	engine.GET("/ws/:room", r.handleSignaling)

	r.engine = engine
	r.server = &http.Server{
		Addr:    address,
		Handler: engine,
	}

	return r
}

// Handler returns the http.Handler of the Relay.
func (r *Relay) Handler() http.Handler {
	return r.engine
}

// Run starts serving. It blocks until Shutdown is called.
func (r *Relay) Run() error {
	r.logger.WithField("bind_address", r.server.Addr).Debug("Serving relay")

	err := r.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		r.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the http server.
func (r *Relay) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// Members returns the participants of a room, sorted by id.
func (r *Relay) Members(room string) []signal.PeerInfo {
	r.RLock()
	defer r.RUnlock()
	return r.members(room, "")
}

func (r *Relay) members(room string, exclude string) []signal.PeerInfo {
	res := []signal.PeerInfo{}
	for id, p := range r.rooms[room] {
		if id != exclude {
			res = append(res, signal.PeerInfo{ID: id, DisplayName: p.name})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

func (r *Relay) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.logger.WithFields(logrus.Fields{
		"method":   c.Request.Method,
		"path":     c.Request.URL.Path,
		"status":   c.Writer.Status(),
		"duration": time.Since(start),
	}).Debug("HTTP request")
}

func (r *Relay) getRoom(c *gin.Context) {
	room := c.Param("room")

	if r.presence != nil {
		members, err := r.presence.Members(c.Request.Context(), room)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "peers": members})
		return
	}

	ids := []string{}
	for _, p := range r.Members(room) {
		ids = append(ids, p.ID)
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "peers": ids})
}

func (r *Relay) handleSignaling(c *gin.Context) {
	room := c.Param("room")
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	// The first message must be join-room.
	conn.SetReadDeadline(time.Now().Add(joinWait))

	join := signal.Message{}
	if err := conn.ReadJSON(&join); err != nil || join.Type != signal.JoinRoom {
		r.logger.WithError(err).Warn("Expected join-room message")
		conn.Close()
		return
	}

	id := join.From
	if id == "" {
		id = uuid.New().String()
	}

	p := &peerConn{
		id:   id,
		room: room,
		name: join.DisplayName,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	if !r.register(p) {
		r.logger.WithFields(logrus.Fields{
			"room": room,
			"peer": id,
		}).Warn("Peer id already in room")
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "peer id already in room"),
			time.Now().Add(writeWait),
		)
		conn.Close()
		return
	}

	go r.writePump(p)
	go r.readPump(p)
}

// register adds a participant to its room, sends it the existing-users
// snapshot and notifies the others. It returns false if the id is taken.
func (r *Relay) register(p *peerConn) bool {
	r.Lock()
	room, ok := r.rooms[p.room]
	if !ok {
		room = make(map[string]*peerConn)
		r.rooms[p.room] = room
	}
	if _, taken := room[p.id]; taken {
		r.Unlock()
		return false
	}
	existing := r.members(p.room, p.id)
	room[p.id] = p

	// Queue the snapshot and the notification while holding the lock so that
	// no message of the room can be queued to p before its snapshot.
	r.enqueue(p, signal.Message{
		Type:  signal.ExistingUsers,
		Room:  p.room,
		Peers: existing,
	})
	r.broadcast(signal.Message{
		Type:        signal.UserConnected,
		Room:        p.room,
		From:        p.id,
		DisplayName: p.name,
	})
	r.Unlock()

	if r.presence != nil {
		if err := r.presence.Add(context.Background(), p.room, p.id); err != nil {
			r.logger.WithError(err).Warn("Presence add")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"room":  p.room,
		"peer":  p.id,
		"peers": len(existing) + 1,
	}).Debug("Peer joined")

	return true
}

func (r *Relay) unregister(p *peerConn) {
	r.Lock()
	room := r.rooms[p.room]
	if room[p.id] != p {
		r.Unlock()
		return
	}
	delete(room, p.id)
	if len(room) == 0 {
		delete(r.rooms, p.room)
	}
	close(p.send)
	r.broadcast(signal.Message{
		Type: signal.UserDisconnected,
		Room: p.room,
		From: p.id,
	})
	r.Unlock()

	if r.presence != nil {
		if err := r.presence.Remove(context.Background(), p.room, p.id); err != nil {
			r.logger.WithError(err).Warn("Presence remove")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"room": p.room,
		"peer": p.id,
	}).Debug("Peer left")
}

// broadcast queues a message to every participant of the room of msg, except
// its sender. The caller holds the lock.
func (r *Relay) broadcast(msg signal.Message) {
	for id, p := range r.rooms[msg.Room] {
		if id != msg.From {
			r.enqueue(p, msg)
		}
	}
}

// enqueue queues a message to a participant. The caller holds the lock.
func (r *Relay) enqueue(p *peerConn, msg signal.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal message")
		return
	}

	select {
	case p.send <- data:
	default:
		r.logger.WithField("peer", p.id).Warn("Failed to send message, buffer full")
	}
}

func (r *Relay) route(msg signal.Message) {
	r.RLock()
	defer r.RUnlock()

	if !msg.Directed() {
		r.broadcast(msg)
		return
	}

	target, ok := r.rooms[msg.Room][msg.To]
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"room": msg.Room,
			"to":   msg.To,
			"type": msg.Type,
		}).Debug("Target peer not found")
		return
	}

	r.enqueue(target, msg)
}

func (r *Relay) readPump(p *peerConn) {
	defer func() {
		r.unregister(p)
		p.conn.Close()
	}()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				r.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}

		msg := signal.Message{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.WithError(err).Warn("Failed to parse message")
			continue
		}

		// Set the sender
		msg.From = p.id
		msg.Room = p.room

		switch msg.Type {
		case signal.JoinRoom, signal.ExistingUsers, signal.UserConnected, signal.UserDisconnected:
			r.logger.WithFields(logrus.Fields{
				"peer": p.id,
				"type": msg.Type,
			}).Debug("Ignoring membership message from client")
		default:
			r.route(msg)
		}
	}
}

func (r *Relay) writePump(p *peerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				r.logger.WithError(err).Warn("Failed to write message")
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
