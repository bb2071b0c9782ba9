package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateRecord is a remote ICE candidate waiting for its peer's remote
// description.
type CandidateRecord struct {
	Peer      string
	Candidate webrtc.ICECandidateInit
	Order     uint64
}

// CandidateBuffer holds, per peer, the remote candidates that arrived before a
// remote description could be applied. Queues are unbounded and keep arrival
// order. A candidate leaves the buffer exactly once, through Drain or Clear.
type CandidateBuffer struct {
	sync.Mutex
	queues map[string][]CandidateRecord
	seq    uint64
}

// NewCandidateBuffer ...
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{
		queues: make(map[string][]CandidateRecord),
	}
}

// Enqueue appends a candidate to the queue of a peer.
func (b *CandidateBuffer) Enqueue(peer string, candidate webrtc.ICECandidateInit) CandidateRecord {
	b.Lock()
	defer b.Unlock()

	b.seq++

	rec := CandidateRecord{
		Peer:      peer,
		Candidate: candidate,
		Order:     b.seq,
	}

	b.queues[peer] = append(b.queues[peer], rec)

	return rec
}

// Len returns the number of candidates pending for a peer.
func (b *CandidateBuffer) Len(peer string) int {
	b.Lock()
	defer b.Unlock()
	return len(b.queues[peer])
}

// Drain empties the queue of a peer, calling apply on every candidate in
// arrival order. A candidate that apply rejects is skipped; the remaining
// candidates are still applied. It returns the number of candidates applied
// and rejected.
func (b *CandidateBuffer) Drain(peer string, apply func(CandidateRecord) error) (int, int) {
	b.Lock()
	queue := b.queues[peer]
	delete(b.queues, peer)
	b.Unlock()

	applied, rejected := 0, 0
	for _, rec := range queue {
		if err := apply(rec); err != nil {
			rejected++
			continue
		}
		applied++
	}

	return applied, rejected
}

// Clear drops the queue of a peer without applying it.
func (b *CandidateBuffer) Clear(peer string) {
	b.Lock()
	defer b.Unlock()
	delete(b.queues, peer)
}
