package peer

import (
	"github.com/pion/webrtc/v4"
)

// Transport is the media connection to one remote peer. Implementations must
// be safe for concurrent use: Close may be called while another operation is
// in progress.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// AddTrack adds an outbound track and returns the sender carrying it.
	AddTrack(track webrtc.TrackLocal) (Sender, error)

	// SenderFor returns the outbound sender of a given kind, if any.
	SenderFor(kind webrtc.RTPCodecType) (Sender, bool)

	Close() error
}

// Sender carries one outbound track. ReplaceTrack swaps the track in place
// without renegotiation. A nil track stops sending.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is an inbound track received from a peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// Observer receives the callbacks of a Transport.
type Observer interface {
	OnLocalCandidate(candidate webrtc.ICECandidateInit)
	OnConnectionStateChange(state webrtc.PeerConnectionState)
	OnRemoteTrack(track RemoteTrack)
}

// TransportFactory creates the Transport toward a peer. The factory must not
// block on the network.
type TransportFactory func(peer string, observer Observer) (Transport, error)

// Signaler sends negotiation messages to a single peer.
type Signaler interface {
	SendOffer(to string, sdp webrtc.SessionDescription) error
	SendAnswer(to string, sdp webrtc.SessionDescription) error
	SendCandidate(to string, candidate webrtc.ICECandidateInit) error
}

// LocalTracks provides the outbound tracks attached to every new connection.
type LocalTracks interface {
	Tracks() []webrtc.TrackLocal
}

// Listener is notified of the lifecycle of peer connections. Callbacks are
// invoked from the goroutine of the peer they concern and should return
// quickly.
type Listener interface {
	OnRemoteTrack(peer string, track RemoteTrack)
	OnPeerConnected(peer string)
	OnPeerFailed(peer string, err error)
	OnPeerRemoved(peer string)
}
