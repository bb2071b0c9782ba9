package common

import (
	"errors"
	"fmt"
)

// ErrType classifies the errors raised while negotiating and maintaining peer
// connections.
type ErrType uint32

const (
	// ProtocolViolation is a signaling message that arrived for a peer whose
	// connection is in a state that cannot accept it.
	ProtocolViolation ErrType = iota
	// NegotiationFailure is an offer, answer or candidate rejected by the
	// transport.
	NegotiationFailure
	// TransportFailure is a peer connection whose connectivity failed.
	TransportFailure
	// ResourceUnavailable is local media that could not be acquired.
	ResourceUnavailable
)

// String ...
func (t ErrType) String() string {
	switch t {
	case ProtocolViolation:
		return "Protocol Violation"
	case NegotiationFailure:
		return "Negotiation Failure"
	case TransportFailure:
		return "Transport Failure"
	case ResourceUnavailable:
		return "Resource Unavailable"
	default:
		return "Unknown"
	}
}

// Err is a classified error. Peer is empty for errors that are not scoped to
// a single peer, ie. ResourceUnavailable.
type Err struct {
	Type ErrType
	Peer string
	Op   string
	Err  error
}

// NewErr ...
func NewErr(errType ErrType, peer string, op string, cause error) *Err {
	return &Err{
		Type: errType,
		Peer: peer,
		Op:   op,
		Err:  cause,
	}
}

// Error ...
func (e *Err) Error() string {
	m := e.Type.String()
	if e.Peer != "" {
		m = fmt.Sprintf("%s, %s", m, e.Peer)
	}
	if e.Op != "" {
		m = fmt.Sprintf("%s, %s", m, e.Op)
	}
	if e.Err != nil {
		m = fmt.Sprintf("%s: %v", m, e.Err)
	}
	return m
}

// Unwrap returns the underlying cause.
func (e *Err) Unwrap() error {
	return e.Err
}

// IsErr checks that an error is of type Err, possibly wrapped, and that its
// type matches the provided ErrType.
func IsErr(err error, t ErrType) bool {
	var e *Err
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}
