// Package conference assembles the peer connections, the roster, the local
// media and the signaling channel of a participant into a meeting session.
//
// The router loop consumes the signaling messages of the room. Membership
// events go to the RosterController, which creates and removes peer
// connections. Offers, answers and ICE candidates are routed to the
// connection of their sender, and status notifications are forwarded to the
// Listener.
package conference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/media"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/mosaicnetworks/parley/src/roster"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrJoined is returned by JoinRoom when the conference already joined.
	ErrJoined = errors.New("already joined")
	// ErrLeft is returned by JoinRoom after LeaveAll. A Conference is not
	// reusable.
	ErrLeft = errors.New("conference left")
)

type sessionState int

const (
	idle sessionState = iota
	joined
	left
)

func (s sessionState) String() string {
	switch s {
	case idle:
		return "Idle"
	case joined:
		return "Joined"
	case left:
		return "Left"
	default:
		return "Unknown"
	}
}

// Conference is the meeting session of one participant.
type Conference struct {
	conf        *config.Config
	self        string
	signal      signal.Signal
	registry    *peer.Registry
	roster      *roster.Roster
	controller  *RosterController
	local       *media.LocalMedia
	coordinator *media.Coordinator
	store       store.Store
	listener    Listener
	logger      *logrus.Entry

	mu         sync.Mutex
	state      sessionState
	joinedAt   time.Time
	mediaErr   error
	shutdownCh chan struct{}
	routerDone chan struct{}
}

// NewConference creates a Conference. The store and the listener are
// optional.
func NewConference(
	conf *config.Config,
	sig signal.Signal,
	factory peer.TransportFactory,
	capturer media.Capturer,
	st store.Store,
	listener Listener,
) *Conference {
	logger := conf.Logger().WithFields(logrus.Fields{
		"room": conf.Room,
		"self": sig.ID(),
	})

	if listener == nil {
		listener = NewLogListener(logger)
	}

	c := &Conference{
		conf:     conf,
		self:     sig.ID(),
		signal:   sig,
		roster:   roster.NewRoster(),
		store:    st,
		listener: listener,
		logger:   logger,
	}

	c.local = media.NewLocalMedia(capturer, logger.WithField("component", "media"))
	c.coordinator = media.NewCoordinator(c.local, registryTargets{c}, c, logger.WithField("component", "media"))

	c.registry = peer.NewRegistry(peer.RegistryConfig{
		Factory:    factory,
		Signaler:   signal.Negotiator{Signal: sig},
		Tracks:     c.coordinator,
		Listener:   peerEvents{c},
		OfferDelay: conf.OfferDelay,
		Logger:     logger,
	})

	c.controller = NewRosterController(
		conf.Room,
		c.registry,
		c.roster,
		st,
		conf.RemoveOnFailure,
		logger,
	)

	return c
}

/*******************************************************************************
Session
*******************************************************************************/

// JoinRoom acquires the local media, starts the signaling router and joins the
// configured room. Media that cannot be acquired does not prevent joining: the
// session continues in a degraded mode and MediaError reports the failure.
func (c *Conference) JoinRoom(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case joined:
		return ErrJoined
	case left:
		return ErrLeft
	}

	if err := c.local.Acquire(ctx, c.conf.Audio, c.conf.Video); err != nil {
		c.logger.WithError(err).Warn("Continuing with degraded media")
		c.mediaErr = err
	}

	c.shutdownCh = make(chan struct{})
	c.routerDone = make(chan struct{})
	go c.route(c.shutdownCh, c.routerDone)

	if err := c.signal.Join(c.conf.Room, c.conf.DisplayName); err != nil {
		close(c.shutdownCh)
		<-c.routerDone
		c.local.Stop()
		return fmt.Errorf("joining room %s: %w", c.conf.Room, err)
	}

	c.state = joined
	c.joinedAt = time.Now()

	c.record(store.SessionStart)

	c.logger.WithField("mode", c.local.Mode()).Info("Joined room")

	return nil
}

// LeaveAll ends the session. Local media is stopped synchronously, every peer
// connection is torn down without waiting for negotiations in progress, and
// the signaling channel is closed.
func (c *Conference) LeaveAll() {
	c.mu.Lock()
	if c.state != joined {
		c.state = left
		c.mu.Unlock()
		return
	}
	c.state = left
	close(c.shutdownCh)
	routerDone := c.routerDone
	c.mu.Unlock()

	// The screen watcher is released before the sources end, so that no
	// restore runs during teardown.
	c.coordinator.Close()
	c.local.Stop()

	<-routerDone

	c.controller.Clear()

	if err := c.signal.Close(); err != nil {
		c.logger.WithError(err).Warn("Closing signal")
	}

	c.record(store.SessionEnd)

	c.logger.Info("Left room")
}

// Join creates the connection to a peer with the given role, unless it
// exists already. The peer is added to the roster.
func (c *Conference) Join(id string, role peer.Role) (*peer.Engine, error) {
	return c.controller.admit(id, "", role)
}

/*******************************************************************************
Media
*******************************************************************************/

// SwitchOutboundSource replaces the outbound track of the source's kind on
// every peer connection.
func (c *Conference) SwitchOutboundSource(ctx context.Context, source media.Source) media.Report {
	return c.coordinator.SwitchSource(ctx, source)
}

// ToggleScreenShare starts or stops sharing the screen. It returns whether the
// screen is shared afterwards.
func (c *Conference) ToggleScreenShare(ctx context.Context) (bool, media.Report, error) {
	return c.coordinator.ToggleScreenShare(ctx)
}

// SetMuted mutes or unmutes the outbound audio or video.
func (c *Conference) SetMuted(ctx context.Context, kind webrtc.RTPCodecType, muted bool) (media.Report, error) {
	return c.coordinator.SetMuted(ctx, kind, muted)
}

// MediaError returns the media acquisition failure of the session, if any.
func (c *Conference) MediaError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaErr
}

// Notify implements media.Notifier by broadcasting a status message to the
// room.
func (c *Conference) Notify(t signal.Type, enabled *bool) error {
	return c.signal.Send(signal.Message{Type: t, Enabled: enabled})
}

/*******************************************************************************
Routing
*******************************************************************************/

func (c *Conference) route(shutdown chan struct{}, done chan struct{}) {
	defer close(done)

	consumer := c.signal.Consumer()

	for {
		select {
		case <-shutdown:
			return
		case msg, ok := <-consumer:
			if !ok {
				c.logger.Warn("Signal channel closed")
				return
			}
			c.dispatch(msg)
		}
	}
}

func (c *Conference) dispatch(msg signal.Message) {
	if msg.From == c.self {
		return
	}

	if msg.Directed() && msg.To != c.self {
		c.logger.WithFields(logrus.Fields{
			"type": msg.Type,
			"to":   msg.To,
		}).Debug("Dropping message for another peer")
		return
	}

	switch msg.Type {
	case signal.ExistingUsers:
		peers := make([]signal.PeerInfo, 0, len(msg.Peers))
		for _, p := range msg.Peers {
			if p.ID != c.self {
				peers = append(peers, p)
			}
		}
		c.controller.OnExistingUsers(peers)
	case signal.UserConnected:
		c.controller.OnUserConnected(signal.PeerInfo{
			ID:          msg.From,
			DisplayName: msg.DisplayName,
		})
	case signal.UserDisconnected:
		c.controller.OnUserDisconnected(msg.From)
	case signal.Offer:
		c.onOffer(msg)
	case signal.Answer:
		c.onAnswer(msg)
	case signal.ICECandidate:
		if msg.Candidate == nil {
			c.violation(msg, "missing candidate")
			return
		}
		c.registry.HandleCandidate(msg.From, *msg.Candidate)
	case signal.ToggleAudio, signal.ToggleVideo, signal.ScreenShareStarted, signal.ScreenShareStopped:
		c.listener.OnPeerStatus(msg.From, msg.Type, msg.Enabled)
	default:
		c.logger.WithField("type", msg.Type).Debug("Ignoring signal message")
	}
}

func (c *Conference) onOffer(msg signal.Message) {
	if msg.SDP == nil {
		c.violation(msg, "missing description")
		return
	}

	e, ok := c.registry.Get(msg.From)
	if !ok {
		var err error
		if e, err = c.controller.AdmitOfferer(msg.From); err != nil {
			return
		}
	}

	e.HandleOffer(*msg.SDP)
}

func (c *Conference) onAnswer(msg signal.Message) {
	if msg.SDP == nil {
		c.violation(msg, "missing description")
		return
	}

	e, ok := c.registry.Get(msg.From)
	if !ok {
		c.violation(msg, "unknown peer")
		return
	}

	e.HandleAnswer(*msg.SDP)
}

func (c *Conference) violation(msg signal.Message, reason string) {
	err := common.NewErr(common.ProtocolViolation, msg.From, string(msg.Type), errors.New(reason))
	c.logger.WithError(err).Debug("Dropping signal message")
}

/*******************************************************************************
Introspection
*******************************************************************************/

// PeerStatus describes the connection to one peer.
type PeerStatus struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	State       string `json:"state"`
	Connection  string `json:"connection"`
	Failed      bool   `json:"failed"`
}

// Peers returns the status of every peer connection, sorted by peer id.
func (c *Conference) Peers() []PeerStatus {
	entries := c.registry.Entries()
	res := make([]PeerStatus, 0, len(entries))
	for _, e := range entries {
		m, _ := c.roster.Get(e.ID())
		res = append(res, PeerStatus{
			ID:          e.ID(),
			DisplayName: m.DisplayName,
			Role:        e.Role().String(),
			State:       e.State().String(),
			Connection:  e.ConnectionState().String(),
			Failed:      e.Failed(),
		})
	}
	return res
}

// Roster returns the participants of the room.
func (c *Conference) Roster() []roster.Member {
	return c.roster.Members()
}

// Registry returns the peer connection registry.
func (c *Conference) Registry() *peer.Registry {
	return c.registry
}

// History returns the recorded history of the room.
func (c *Conference) History() ([]store.Record, error) {
	if c.store == nil {
		return []store.Record{}, nil
	}
	return c.store.Records(c.conf.Room)
}

// GetStats returns the statistics of the session.
func (c *Conference) GetStats() map[string]string {
	c.mu.Lock()
	state := c.state
	joinedAt := c.joinedAt
	mediaErr := c.mediaErr
	c.mu.Unlock()

	duration := time.Duration(0)
	if state == joined {
		duration = time.Since(joinedAt).Round(time.Second)
	}

	connected, failed := 0, 0
	for _, e := range c.registry.Entries() {
		if e.Failed() {
			failed++
		} else if e.ConnectionState() == webrtc.PeerConnectionStateConnected {
			connected++
		}
	}

	return map[string]string{
		"room":         c.conf.Room,
		"id":           c.self,
		"name":         c.conf.DisplayName,
		"state":        state.String(),
		"participants": strconv.Itoa(c.roster.Len() + 1),
		"connections":  strconv.Itoa(c.registry.Len()),
		"connected":    strconv.Itoa(connected),
		"failed":       strconv.Itoa(failed),
		"duration":     duration.String(),
		"media":        string(c.local.Mode()),
		"degraded":     strconv.FormatBool(mediaErr != nil),
		"sharing":      strconv.FormatBool(c.coordinator.Sharing()),
		"audio_muted":  strconv.FormatBool(c.coordinator.Muted(webrtc.RTPCodecTypeAudio)),
		"video_muted":  strconv.FormatBool(c.coordinator.Muted(webrtc.RTPCodecTypeVideo)),
	}
}

func (c *Conference) record(event store.EventType) {
	if c.store == nil {
		return
	}
	_, err := c.store.Append(store.Record{
		Room:        c.conf.Room,
		Peer:        c.self,
		DisplayName: c.conf.DisplayName,
		Event:       event,
	})
	if err != nil {
		c.logger.WithError(err).Warn("Recording history")
	}
}

/*******************************************************************************
Adapters
*******************************************************************************/

// registryTargets lists the peer connections for the media coordinator.
type registryTargets struct {
	c *Conference
}

func (t registryTargets) Targets() []media.Target {
	entries := t.c.registry.Entries()
	res := make([]media.Target, len(entries))
	for i, e := range entries {
		res[i] = e
	}
	return res
}

// peerEvents relays the events of the registry to the controller and the
// listener.
type peerEvents struct {
	c *Conference
}

func (p peerEvents) OnRemoteTrack(id string, track peer.RemoteTrack) {
	p.c.listener.OnRemoteTrack(id, track.Kind(), track)
}

func (p peerEvents) OnPeerConnected(id string) {
	p.c.controller.OnPeerConnected(id)
	p.c.listener.OnPeerConnected(id)
}

func (p peerEvents) OnPeerFailed(id string, err error) {
	p.c.listener.OnPeerFailed(id, err)
	p.c.controller.OnPeerFailed(id, err)
}

func (p peerEvents) OnPeerRemoved(id string) {
	p.c.listener.OnPeerRemoved(id)
}
