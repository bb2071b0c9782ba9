package peer

// SignalingState is the negotiation state of a peer connection.
type SignalingState uint32

const (
	// New is the state of a freshly created connection.
	New SignalingState = iota
	// HaveLocalOffer is set once a local offer has been applied and sent.
	HaveLocalOffer
	// HaveRemoteOffer is set once a remote offer has been applied.
	HaveRemoteOffer
	// Stable is reached when an offer/answer exchange completes.
	Stable
	// Closed is terminal.
	Closed
)

func (s SignalingState) String() string {
	switch s {
	case New:
		return "New"
	case HaveLocalOffer:
		return "HaveLocalOffer"
	case HaveRemoteOffer:
		return "HaveRemoteOffer"
	case Stable:
		return "Stable"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether a connection may move from one signaling
// state to another. Stable may start a new exchange in either direction
// (renegotiation). Closed can be reached from anywhere and never left.
func CanTransition(from, to SignalingState) bool {
	if from == Closed {
		return false
	}
	if to == Closed {
		return true
	}
	switch from {
	case New, Stable:
		return to == HaveLocalOffer || to == HaveRemoteOffer
	case HaveLocalOffer, HaveRemoteOffer:
		return to == Stable
	}
	return false
}

// Role is the side a participant plays in the offer/answer exchange with one
// peer. It is fixed when the connection is created.
type Role uint32

const (
	// Initiator creates the first offer.
	Initiator Role = iota
	// Responder waits for the offer and answers it.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "Initiator"
	case Responder:
		return "Responder"
	default:
		return "Unknown"
	}
}
