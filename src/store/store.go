// Package store keeps the history of the sessions a participant took part in:
// who joined, left, connected or failed, in which room and when.
package store

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// EventType is the kind of a history record.
type EventType string

// History events.
const (
	PeerJoined    EventType = "joined"
	PeerLeft      EventType = "left"
	PeerConnected EventType = "connected"
	PeerFailed    EventType = "failed"
	SessionStart  EventType = "session-start"
	SessionEnd    EventType = "session-end"
)

// Record is one entry of the session history.
type Record struct {
	Seq         uint64
	Room        string
	Peer        string
	DisplayName string
	Role        string
	Event       EventType
	Detail      string
	Time        time.Time
}

// Marshal ...
func (r *Record) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (r *Record) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}

// Store is an interface for history backends.
type Store interface {
	// Append assigns the next sequence number to a record and saves it.
	Append(r Record) (Record, error)
	// Records returns the records of a room in sequence order. An empty room
	// returns every record.
	Records(room string) ([]Record, error)
	// Close releases the resources of the store.
	Close() error
}
