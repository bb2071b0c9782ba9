package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// RegistryConfig holds the collaborators shared by every Engine of a
// Registry.
type RegistryConfig struct {
	// Factory creates the transport of each new connection.
	Factory TransportFactory

	// Signaler sends offers, answers and candidates to remote peers.
	Signaler Signaler

	// Tracks provides the local tracks attached to new connections. It may be
	// nil, in which case connections start without outbound media.
	Tracks LocalTracks

	// Listener receives the lifecycle events of every connection.
	Listener Listener

	// OfferDelay is the deferral applied before an Initiator creates its
	// offer.
	OfferDelay time.Duration

	Logger *logrus.Entry
}

// Registry maps peer ids to their Engine. It holds at most one Engine per
// peer and is the only owner of the Engines it creates.
type Registry struct {
	sync.RWMutex
	entries map[string]*Engine
	buffer  *CandidateBuffer
	conf    RegistryConfig
	logger  *logrus.Entry
}

// NewRegistry ...
func NewRegistry(conf RegistryConfig) *Registry {
	if conf.Listener == nil {
		conf.Listener = nopListener{}
	}
	if conf.Logger == nil {
		conf.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		entries: make(map[string]*Engine),
		buffer:  NewCandidateBuffer(),
		conf:    conf,
		logger:  conf.Logger,
	}
}

// GetOrCreate returns the Engine of a peer, creating it with the given role
// if it does not exist. The role of an existing Engine is never changed. The
// boolean result is true when a new Engine was created.
func (r *Registry) GetOrCreate(id string, role Role) (*Engine, bool, error) {
	r.Lock()

	if e, ok := r.entries[id]; ok {
		r.Unlock()
		if e.Role() != role {
			r.logger.WithFields(logrus.Fields{
				"peer":      id,
				"role":      e.Role(),
				"requested": role,
			}).Debug("Connection exists, keeping original role")
		}
		return e, false, nil
	}

	e, err := newEngine(id, role, &r.conf, r.buffer)
	if err != nil {
		r.Unlock()
		return nil, false, err
	}
	r.entries[id] = e

	r.Unlock()

	var tracks []webrtc.TrackLocal
	if r.conf.Tracks != nil {
		tracks = r.conf.Tracks.Tracks()
	}

	e.start(tracks)

	r.logger.WithFields(logrus.Fields{
		"peer": id,
		"role": role,
	}).Debug("Created peer connection")

	return e, true, nil
}

// Get returns the Engine of a peer, if any.
func (r *Registry) Get(id string) (*Engine, bool) {
	r.RLock()
	defer r.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove closes and evicts the Engine of a peer, and drops the candidates
// buffered for it. Removing an unknown peer has no effect.
func (r *Registry) Remove(id string) bool {
	r.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.Unlock()

	r.buffer.Clear(id)

	if !ok {
		return false
	}

	r.teardown(e)

	return true
}

// RemoveAll closes and evicts every Engine.
func (r *Registry) RemoveAll() {
	r.Lock()
	entries := r.entries
	r.entries = make(map[string]*Engine)
	r.Unlock()

	for id, e := range entries {
		r.buffer.Clear(id)
		r.teardown(e)
	}
}

func (r *Registry) teardown(e *Engine) {
	if err := e.Close(); err != nil {
		r.logger.WithField("peer", e.ID()).WithError(err).Warn("Closing transport")
	}

	r.logger.WithField("peer", e.ID()).Debug("Removed peer connection")

	r.conf.Listener.OnPeerRemoved(e.ID())
}

// Entries returns the Engines currently registered, sorted by peer id.
func (r *Registry) Entries() []*Engine {
	r.RLock()
	res := make([]*Engine, 0, len(r.entries))
	for _, e := range r.entries {
		res = append(res, e)
	}
	r.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		return res[i].ID() < res[j].ID()
	})

	return res
}

// Len returns the number of registered Engines.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.entries)
}

// HandleCandidate routes a remote candidate to the Engine of its peer. When
// no Engine exists yet, the candidate is buffered until one is created and
// accepts a remote description. The lookup and the enqueue share the read
// lock: an Engine created concurrently is created after the candidate is
// buffered and drains it with its first remote description.
func (r *Registry) HandleCandidate(from string, candidate webrtc.ICECandidateInit) {
	r.RLock()
	e, ok := r.entries[from]
	var rec CandidateRecord
	if !ok {
		rec = r.buffer.Enqueue(from, candidate)
	}
	r.RUnlock()

	if ok {
		e.HandleCandidate(candidate)
		return
	}

	r.logger.WithFields(logrus.Fields{
		"peer":  from,
		"order": rec.Order,
	}).Debug("Buffered ICE candidate for unknown peer")
}

// Pending returns the number of candidates buffered for a peer.
func (r *Registry) Pending(id string) int {
	return r.buffer.Len(id)
}

type nopListener struct{}

func (nopListener) OnRemoteTrack(string, RemoteTrack) {}
func (nopListener) OnPeerConnected(string)            {}
func (nopListener) OnPeerFailed(string, error)        {}
func (nopListener) OnPeerRemoved(string)              {}
