// Package signal defines the messages exchanged by conference participants
// through a signaling server, and the Signal interface implemented by the
// signaling backends.
//
// A signaling server scopes participants to rooms. It delivers the
// existing-users snapshot to a participant that joins, notifies the others
// with user-connected and user-disconnected, broadcasts room-wide messages and
// routes directed messages (offers, answers and ICE candidates) to a single
// participant. Delivery is reliable and ordered per sender only.
package signal

import (
	"github.com/pion/webrtc/v4"
)

// Type identifies a signaling message.
type Type string

// Signaling message types.
const (
	JoinRoom           Type = "join-room"
	ExistingUsers      Type = "existing-users"
	UserConnected      Type = "user-connected"
	UserDisconnected   Type = "user-disconnected"
	Offer              Type = "offer"
	Answer             Type = "answer"
	ICECandidate       Type = "ice-candidate"
	ToggleAudio        Type = "toggle-audio"
	ToggleVideo        Type = "toggle-video"
	ScreenShareStarted Type = "screen-share-started"
	ScreenShareStopped Type = "screen-share-stopped"
)

// PeerInfo describes a participant of a room.
type PeerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Message is the envelope of every signaling message. From and Room are set
// by the signaling backend. To is set for directed messages only.
type Message struct {
	Type        Type                       `json:"type"`
	Room        string                     `json:"room,omitempty"`
	From        string                     `json:"from,omitempty"`
	To          string                     `json:"to,omitempty"`
	DisplayName string                     `json:"displayName,omitempty"`
	Peers       []PeerInfo                 `json:"peers,omitempty"`
	SDP         *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Enabled     *bool                      `json:"enabled,omitempty"`
}

// Directed reports whether the message targets a single participant.
func (m Message) Directed() bool {
	return m.To != ""
}

// Signal is implemented by signaling backends.
type Signal interface {
	// ID returns the peer id identifying this end of the signaling channel.
	ID() string

	// Join enters a room. The existing-users snapshot is delivered through the
	// Consumer channel before any other message of the room.
	Join(room string, displayName string) error

	// Send sends a message to the room, or to a single participant when To is
	// set.
	Send(msg Message) error

	// Consumer is the channel through which incoming messages are delivered.
	Consumer() <-chan Message

	// Close leaves the room and releases the connection.
	Close() error
}

// Negotiator sends directed negotiation messages over a Signal.
type Negotiator struct {
	Signal Signal
}

// SendOffer ...
func (n Negotiator) SendOffer(to string, sdp webrtc.SessionDescription) error {
	return n.Signal.Send(Message{Type: Offer, To: to, SDP: &sdp})
}

// SendAnswer ...
func (n Negotiator) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	return n.Signal.Send(Message{Type: Answer, To: to, SDP: &sdp})
}

// SendCandidate ...
func (n Negotiator) SendCandidate(to string, candidate webrtc.ICECandidateInit) error {
	return n.Signal.Send(Message{Type: ICECandidate, To: to, Candidate: &candidate})
}
