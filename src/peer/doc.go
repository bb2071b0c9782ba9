// Package peer implements the negotiation core of a conference participant:
// one Engine per remote peer, each driving the offer/answer state machine of
// its own transport, and the Registry that owns them.
//
// Every Engine has a mailbox and a single goroutine consuming it. Remote
// signaling messages, transport callbacks and local requests (track
// replacement) are all delivered as typed messages into that mailbox, so the
// operations of one peer are serialized while peers progress independently.
//
// Remote ICE candidates that arrive before the remote description are held in
// a CandidateBuffer, keyed by peer id, and replayed in arrival order as soon as
// a remote description is accepted.
package peer
