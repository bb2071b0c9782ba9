package store

import (
	"sync"
	"time"
)

// InmemStore keeps the history in memory. It is lost when the process exits.
type InmemStore struct {
	sync.RWMutex
	records []Record
	seq     uint64
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{}
}

// Append implements the Store interface.
func (s *InmemStore) Append(r Record) (Record, error) {
	s.Lock()
	defer s.Unlock()

	s.seq++
	r.Seq = s.seq
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	s.records = append(s.records, r)

	return r, nil
}

// Records implements the Store interface.
func (s *InmemStore) Records(room string) ([]Record, error) {
	s.RLock()
	defer s.RUnlock()

	res := []Record{}
	for _, r := range s.records {
		if room == "" || r.Room == room {
			res = append(res, r)
		}
	}
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
