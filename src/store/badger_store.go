package store

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

const (
	recordPrefix = "record"
	seqKey       = "seq"
	seqBandwidth = 100
)

// BadgerStore persists the history in a Badger database. Records are keyed by
// room and sequence number so that the records of a room are read with a
// single prefix scan.
type BadgerStore struct {
	db   *badger.DB
	seq  *badger.Sequence
	path string
}

// NewBadgerStore opens the database at path, creating it if necessary.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithLogger(logger.WithField("ns", "badger"))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := handle.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		handle.Close()
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		seq:  seq,
		path: path,
	}, nil
}

//==============================================================================
//Keys

// Room names are hex encoded so that no room prefix is a prefix of another.
func roomPrefix(room string) []byte {
	return []byte(fmt.Sprintf("%s_%x_", recordPrefix, room))
}

func recordKey(room string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%x_%020d", recordPrefix, room, seq))
}

//==============================================================================
//Implement the Store interface

// Append implements the Store interface.
func (s *BadgerStore) Append(r Record) (Record, error) {
	n, err := s.seq.Next()
	if err != nil {
		return r, err
	}

	// badger sequences start at 0
	r.Seq = n + 1
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	val, err := r.Marshal()
	if err != nil {
		return r, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Room, r.Seq), val)
	})

	return r, err
}

// Records implements the Store interface. Records are sorted by sequence
// number across rooms.
func (s *BadgerStore) Records(room string) ([]Record, error) {
	prefix := []byte(recordPrefix + "_")
	if room != "" {
		prefix = roomPrefix(room)
	}

	res := []Record{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			err := it.Item().Value(func(val []byte) error {
				return r.Unmarshal(val)
			})
			if err != nil {
				return err
			}
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if room == "" {
		sort.Slice(res, func(i, j int) bool {
			return res[i].Seq < res[j].Seq
		})
	}

	return res, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath returns the directory of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}
