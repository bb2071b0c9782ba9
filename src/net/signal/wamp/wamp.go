// Package wamp implements signaling over WAMP, with publish/subscribe and RPC
// over WebSockets.
//
// Every room is a topic, and every participant of a room subscribes to a
// second topic of its own for directed messages. A RoomService, attached to
// the router, keeps track of room membership: it answers the join procedure
// with the existing-users snapshot and publishes user-connected and
// user-disconnected on the room topic, including when a session disappears
// without leaving.
//
// If parley finds a cert.pem file in its data directory, it passes this
// certificate to the signal client. Otherwise, it relies on the "web of trust"
// to validate the server's certificate. This means that the certificate can be
// self-signed because it can be passed directly to parley. There is also an
// option to skip certificate verification, but this should only be used for
// testing.
package wamp

import "fmt"

const (
	// ErrJoin indicates that the room service could not process a join
	// request.
	ErrJoin = "io.parley.join_failed"

	// ProcJoin is the procedure called to join a room.
	ProcJoin = "parley.join"

	// ProcLeave is the procedure called to leave a room.
	ProcLeave = "parley.leave"

	// metaSessionOnLeave is the router meta-event published when a session
	// ends.
	metaSessionOnLeave = "wamp.session.on_leave"

	optDiscloseMe = "disclose_me"
	detailCaller  = "caller"
)

// RoomTopic returns the topic of room-wide messages.
func RoomTopic(room string) string {
	return fmt.Sprintf("parley.room.%s", room)
}

// PeerTopic returns the topic of the messages directed to one participant of
// a room.
func PeerTopic(room string, peer string) string {
	return fmt.Sprintf("parley.room.%s.peer.%s", room, peer)
}
