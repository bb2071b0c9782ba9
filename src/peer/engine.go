package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bep/debounce"
	"github.com/mosaicnetworks/parley/src/common"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned by requests made to a closed Engine.
	ErrClosed = errors.New("peer connection closed")
	// ErrInert is returned by requests made to an Engine whose connection
	// failed.
	ErrInert = errors.New("peer connection failed")
)

type remoteOffer struct{ sdp webrtc.SessionDescription }

type remoteAnswer struct{ sdp webrtc.SessionDescription }

type remoteCandidate struct{ candidate webrtc.ICECandidateInit }

type localCandidate struct{ candidate webrtc.ICECandidateInit }

type connectionState struct{ state webrtc.PeerConnectionState }

type remoteTrack struct{ track RemoteTrack }

type createOffer struct{}

type attachTracks struct{ tracks []webrtc.TrackLocal }

type replaceTrack struct {
	kind   webrtc.RTPCodecType
	track  webrtc.TrackLocal
	result chan error
}

// Engine drives the negotiation of the connection with one remote peer. All
// its work happens on a dedicated goroutine that consumes the Engine's
// mailbox, one message at a time.
type Engine struct {
	id        string
	role      Role
	transport Transport
	signaler  Signaler
	buffer    *CandidateBuffer
	listener  Listener
	logger    *logrus.Entry

	mu          sync.Mutex
	state       SignalingState
	remoteSet   bool
	failed      bool
	conn        webrtc.PeerConnectionState
	renegotiate bool

	inbox     *mailbox
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	scheduler func(func())
}

func newEngine(id string, role Role, conf *RegistryConfig, buffer *CandidateBuffer) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		id:        id,
		role:      role,
		signaler:  conf.Signaler,
		buffer:    buffer,
		listener:  conf.Listener,
		state:     New,
		conn:      webrtc.PeerConnectionStateNew,
		inbox:     newMailbox(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		scheduler: debounce.New(conf.OfferDelay),
		logger: conf.Logger.WithFields(logrus.Fields{
			"peer": id,
			"role": role,
		}),
	}

	transport, err := conf.Factory(id, e)
	if err != nil {
		cancel()
		return nil, common.NewErr(common.NegotiationFailure, id, "create transport", err)
	}
	e.transport = transport

	return e, nil
}

// start attaches the local tracks and launches the mailbox loop. The
// Initiator schedules its offer after the tracks are attached.
func (e *Engine) start(tracks []webrtc.TrackLocal) {
	e.inbox.push(attachTracks{tracks: tracks})
	if e.role == Initiator {
		e.scheduleOffer()
	}
	go e.run()
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.inbox.notify:
			for _, msg := range e.inbox.take() {
				if e.ctx.Err() != nil {
					return
				}
				e.process(msg)
			}
		}
	}
}

func (e *Engine) process(msg interface{}) {
	switch m := msg.(type) {
	case attachTracks:
		e.attach(m.tracks)
	case createOffer:
		e.createOffer()
	case remoteOffer:
		e.onRemoteOffer(m.sdp)
	case remoteAnswer:
		e.onRemoteAnswer(m.sdp)
	case remoteCandidate:
		e.onRemoteCandidate(m.candidate)
	case localCandidate:
		if err := e.signaler.SendCandidate(e.id, m.candidate); err != nil {
			e.logger.WithError(err).Error("Sending ICE candidate")
		}
	case connectionState:
		e.onConnectionStateChange(m.state)
	case remoteTrack:
		e.logger.WithFields(logrus.Fields{
			"kind":  m.track.Kind(),
			"track": m.track.ID(),
		}).Debug("Remote track")
		e.listener.OnRemoteTrack(e.id, m.track)
	case replaceTrack:
		m.result <- e.replace(m.kind, m.track)
	}
}

/*******************************************************************************
Public API
*******************************************************************************/

// ID returns the id of the remote peer.
func (e *Engine) ID() string {
	return e.id
}

// Role returns the role of the local side toward this peer.
func (e *Engine) Role() Role {
	return e.role
}

// State returns the current signaling state.
func (e *Engine) State() SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ConnectionState returns the last connection state reported by the
// transport.
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// Failed reports whether the connection failed. A failed Engine stays
// registered but ignores negotiation messages.
func (e *Engine) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// HandleOffer queues a remote offer.
func (e *Engine) HandleOffer(sdp webrtc.SessionDescription) {
	e.inbox.push(remoteOffer{sdp: sdp})
}

// HandleAnswer queues a remote answer.
func (e *Engine) HandleAnswer(sdp webrtc.SessionDescription) {
	e.inbox.push(remoteAnswer{sdp: sdp})
}

// HandleCandidate queues a remote ICE candidate.
func (e *Engine) HandleCandidate(candidate webrtc.ICECandidateInit) {
	e.inbox.push(remoteCandidate{candidate: candidate})
}

// ReplaceTrack swaps the outbound track of a given kind, or adds it when the
// connection has no sender of that kind. It waits for the Engine to process
// the request.
func (e *Engine) ReplaceTrack(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	result := make(chan error, 1)
	e.inbox.push(replaceTrack{kind: kind, track: track, result: result})

	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLocalCandidate implements Observer.
func (e *Engine) OnLocalCandidate(candidate webrtc.ICECandidateInit) {
	e.inbox.push(localCandidate{candidate: candidate})
}

// OnConnectionStateChange implements Observer.
func (e *Engine) OnConnectionStateChange(state webrtc.PeerConnectionState) {
	e.inbox.push(connectionState{state: state})
}

// OnRemoteTrack implements Observer.
func (e *Engine) OnRemoteTrack(track RemoteTrack) {
	e.inbox.push(remoteTrack{track: track})
}

// Close abandons any operation in progress, closes the transport and moves
// the Engine to Closed. It does not wait for the mailbox loop to return.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()

		e.mu.Lock()
		e.state = Closed
		e.mu.Unlock()

		err = e.transport.Close()

		e.logger.Debug("Closed")
	})
	return err
}

// Done is closed when the mailbox loop has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

/*******************************************************************************
Negotiation
*******************************************************************************/

func (e *Engine) setState(to SignalingState) bool {
	e.mu.Lock()
	from := e.state
	ok := CanTransition(from, to)
	if ok {
		e.state = to
	}
	e.mu.Unlock()

	if !ok {
		e.logger.WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Debug("Refusing state transition")
		return false
	}

	e.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("State transition")

	return true
}

func (e *Engine) inert(op string) bool {
	if e.Failed() {
		e.logger.WithField("op", op).Debug("Ignoring operation on failed connection")
		return true
	}
	return false
}

func (e *Engine) violation(op string, state SignalingState) {
	err := common.NewErr(
		common.ProtocolViolation,
		e.id,
		op,
		fmt.Errorf("not accepted in state %s", state),
	)
	e.logger.WithError(err).Debug("Dropping message")
}

func (e *Engine) negotiationFailure(op string, cause error) {
	err := common.NewErr(common.NegotiationFailure, e.id, op, cause)
	e.logger.WithError(err).Error("Negotiation step aborted")
}

func (e *Engine) scheduleOffer() {
	e.scheduler(func() {
		e.inbox.push(createOffer{})
	})
}

func (e *Engine) attach(tracks []webrtc.TrackLocal) {
	for _, t := range tracks {
		if _, err := e.transport.AddTrack(t); err != nil {
			e.negotiationFailure("attach track", err)
			continue
		}
		e.logger.WithField("kind", t.Kind()).Debug("Attached local track")
	}
}

func (e *Engine) createOffer() {
	if e.inert("create offer") {
		return
	}

	state := e.State()

	switch {
	case state == Stable:
	case state == New && e.role == Initiator:
	default:
		// A Responder waits for the first exchange to complete, and an
		// exchange already in progress is finished first.
		if state != Closed {
			e.mu.Lock()
			e.renegotiate = true
			e.mu.Unlock()
		}
		e.logger.WithField("state", state).Debug("Deferring offer")
		return
	}

	offer, err := e.transport.CreateOffer()
	if err != nil {
		e.negotiationFailure("create offer", err)
		return
	}

	if err := e.transport.SetLocalDescription(offer); err != nil {
		e.negotiationFailure("set local offer", err)
		return
	}

	if !e.setState(HaveLocalOffer) {
		return
	}

	e.mu.Lock()
	e.renegotiate = false
	e.mu.Unlock()

	if err := e.signaler.SendOffer(e.id, offer); err != nil {
		e.logger.WithError(err).Error("Sending offer")
	}
}

func (e *Engine) onRemoteOffer(sdp webrtc.SessionDescription) {
	if e.inert("remote offer") {
		return
	}

	state := e.State()
	if state != New && state != Stable {
		// Glare: an exchange is already in progress. The offer is dropped,
		// not queued.
		e.violation("remote offer", state)
		return
	}

	if err := e.transport.SetRemoteDescription(sdp); err != nil {
		e.negotiationFailure("set remote offer", err)
		return
	}

	e.mu.Lock()
	wasSet := e.remoteSet
	e.remoteSet = true
	e.mu.Unlock()

	e.drainCandidates()

	// The signaling state only moves once the answer is applied locally, so
	// that a failed answer leaves the Engine in New or Stable, where the
	// peer's next offer is accepted.
	answer, err := e.transport.CreateAnswer()
	if err != nil {
		e.abandonOffer(wasSet)
		e.negotiationFailure("create answer", err)
		return
	}

	if err := e.transport.SetLocalDescription(answer); err != nil {
		e.abandonOffer(wasSet)
		e.negotiationFailure("set local answer", err)
		return
	}

	if !e.setState(HaveRemoteOffer) {
		return
	}

	if err := e.signaler.SendAnswer(e.id, answer); err != nil {
		e.logger.WithError(err).Error("Sending answer")
	}

	if e.setState(Stable) {
		e.onStable()
	}
}

func (e *Engine) abandonOffer(wasSet bool) {
	e.mu.Lock()
	e.remoteSet = wasSet
	e.mu.Unlock()
}

func (e *Engine) onRemoteAnswer(sdp webrtc.SessionDescription) {
	if e.inert("remote answer") {
		return
	}

	state := e.State()
	if state != HaveLocalOffer {
		e.violation("remote answer", state)
		return
	}

	if err := e.transport.SetRemoteDescription(sdp); err != nil {
		e.negotiationFailure("set remote answer", err)
		return
	}

	if !e.setState(Stable) {
		return
	}

	e.mu.Lock()
	e.remoteSet = true
	e.mu.Unlock()

	e.drainCandidates()
	e.onStable()
}

func (e *Engine) onStable() {
	e.mu.Lock()
	again := e.renegotiate
	e.mu.Unlock()

	if again {
		e.scheduleOffer()
	}
}

func (e *Engine) onRemoteCandidate(candidate webrtc.ICECandidateInit) {
	if e.inert("remote candidate") {
		return
	}

	e.mu.Lock()
	ready := e.remoteSet
	e.mu.Unlock()

	if !ready {
		rec := e.buffer.Enqueue(e.id, candidate)
		e.logger.WithField("order", rec.Order).Debug("Buffered ICE candidate")
		return
	}

	if err := e.transport.AddICECandidate(candidate); err != nil {
		e.negotiationFailure("add ICE candidate", err)
	}
}

func (e *Engine) drainCandidates() {
	applied, rejected := e.buffer.Drain(e.id, func(rec CandidateRecord) error {
		if err := e.transport.AddICECandidate(rec.Candidate); err != nil {
			e.logger.WithField("order", rec.Order).WithError(err).Warn("Skipping buffered ICE candidate")
			return err
		}
		return nil
	})

	if applied+rejected > 0 {
		e.logger.WithFields(logrus.Fields{
			"applied":  applied,
			"rejected": rejected,
		}).Debug("Drained ICE candidates")
	}
}

func (e *Engine) onConnectionStateChange(state webrtc.PeerConnectionState) {
	e.mu.Lock()
	e.conn = state
	e.mu.Unlock()

	e.logger.WithField("connection", state).Debug("Connection state change")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		e.listener.OnPeerConnected(e.id)
	case webrtc.PeerConnectionStateFailed:
		e.mu.Lock()
		e.failed = true
		e.mu.Unlock()

		err := common.NewErr(
			common.TransportFailure,
			e.id,
			"connect",
			errors.New("connection failed"),
		)
		e.logger.WithError(err).Warn("Peer connection failed")
		e.listener.OnPeerFailed(e.id, err)
	}
}

func (e *Engine) replace(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	if e.Failed() {
		return common.NewErr(common.TransportFailure, e.id, "replace track", ErrInert)
	}

	if sender, ok := e.transport.SenderFor(kind); ok {
		if err := sender.ReplaceTrack(track); err != nil {
			return common.NewErr(common.TransportFailure, e.id, "replace track", err)
		}
		return nil
	}

	if track == nil {
		return nil
	}

	if _, err := e.transport.AddTrack(track); err != nil {
		return common.NewErr(common.NegotiationFailure, e.id, "add track", err)
	}

	e.logger.WithField("kind", kind).Debug("Added track, renegotiating")

	e.mu.Lock()
	e.renegotiate = true
	e.mu.Unlock()

	e.scheduleOffer()

	return nil
}
