package conference

import (
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/mosaicnetworks/parley/src/roster"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/sirupsen/logrus"
)

// RosterController translates room membership into peer connections. The
// side that learns about a peer through user-connected initiates, the side
// that finds it in the existing-users snapshot responds, so exactly one side
// of every pair creates the first offer.
type RosterController struct {
	room            string
	registry        *peer.Registry
	roster          *roster.Roster
	store           store.Store
	removeOnFailure bool
	logger          *logrus.Entry
}

// NewRosterController ...
func NewRosterController(
	room string,
	registry *peer.Registry,
	roster *roster.Roster,
	store store.Store,
	removeOnFailure bool,
	logger *logrus.Entry,
) *RosterController {
	return &RosterController{
		room:            room,
		registry:        registry,
		roster:          roster,
		store:           store,
		removeOnFailure: removeOnFailure,
		logger:          logger,
	}
}

// OnExistingUsers handles the snapshot received after joining. The local side
// responds to each existing peer.
func (rc *RosterController) OnExistingUsers(peers []signal.PeerInfo) {
	rc.logger.WithField("count", len(peers)).Debug("Existing users")
	for _, p := range peers {
		rc.admit(p.ID, p.DisplayName, peer.Responder)
	}
}

// OnUserConnected handles a peer joining after us. The local side initiates.
func (rc *RosterController) OnUserConnected(p signal.PeerInfo) {
	rc.admit(p.ID, p.DisplayName, peer.Initiator)
}

// AdmitOfferer handles an offer from a peer that is not in the roster yet,
// which happens when the offer overtakes the membership event. The offerer is
// the initiator, so the local side responds.
func (rc *RosterController) AdmitOfferer(id string) (*peer.Engine, error) {
	return rc.admit(id, "", peer.Responder)
}

func (rc *RosterController) admit(id string, displayName string, role peer.Role) (*peer.Engine, error) {
	added := rc.roster.Add(id, displayName)

	e, created, err := rc.registry.GetOrCreate(id, role)
	if err != nil {
		rc.logger.WithField("peer", id).WithError(err).Error("Creating peer connection")
		return nil, err
	}

	if added || created {
		rc.record(id, displayName, e.Role().String(), store.PeerJoined, "")
	}

	return e, nil
}

// OnUserDisconnected removes a peer that left the room. It is idempotent.
func (rc *RosterController) OnUserDisconnected(id string) {
	inRoster := rc.roster.Remove(id)
	inRegistry := rc.registry.Remove(id)

	if inRoster || inRegistry {
		rc.record(id, "", "", store.PeerLeft, "")
	}
}

// OnPeerConnected records a connection reaching the connected state.
func (rc *RosterController) OnPeerConnected(id string) {
	rc.record(id, "", "", store.PeerConnected, "")
}

// OnPeerFailed records a failed connection. The peer is removed only when
// removal on failure is enabled, otherwise its inert entry is kept until the
// peer leaves.
func (rc *RosterController) OnPeerFailed(id string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	rc.record(id, "", "", store.PeerFailed, detail)

	if rc.removeOnFailure {
		rc.roster.Remove(id)
		rc.registry.Remove(id)
	}
}

// Clear tears down every connection and empties the roster.
func (rc *RosterController) Clear() {
	rc.registry.RemoveAll()
	ids := rc.roster.Clear()
	rc.logger.WithField("peers", len(ids)).Debug("Cleared roster")
}

func (rc *RosterController) record(id, displayName, role string, event store.EventType, detail string) {
	if rc.store == nil {
		return
	}

	r := store.Record{
		Room:        rc.room,
		Peer:        id,
		DisplayName: displayName,
		Role:        role,
		Event:       event,
		Detail:      detail,
	}

	if _, err := rc.store.Append(r); err != nil {
		rc.logger.WithField("peer", id).WithError(err).Warn("Recording history")
	}
}
