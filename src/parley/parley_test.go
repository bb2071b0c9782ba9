package parley

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/net/signal/inmem"
	"github.com/mosaicnetworks/parley/src/store"
)

func TestRunAndLeave(t *testing.T) {
	dir, err := os.MkdirTemp("", "parley")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(dir)
	conf.DatabaseDir = filepath.Join(dir, config.DefaultBadgerFile)
	conf.PeerID = "alice"
	conf.Store = true
	conf.NoService = true

	hub := inmem.NewHub(common.NewTestEntry(t, common.TestLogLevel))

	p := NewParley(conf)
	p.Signal = hub.Connect("alice")

	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for len(hub.Members(conf.Room)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("alice never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}

	if n := len(hub.Members(conf.Room)); n != 0 {
		t.Fatalf("alice should have left the room, %d members remain", n)
	}

	// the history survives the session
	s, err := store.NewBadgerStore(conf.DatabaseDir, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	records, err := s.Records(conf.Room)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 ||
		records[0].Event != store.SessionStart ||
		records[1].Event != store.SessionEnd {
		t.Fatalf("expected session start and end, got %#v", records)
	}
}

func TestUnknownSignal(t *testing.T) {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SignalKind = "carrier-pigeon"

	if err := NewParley(conf).Init(); err == nil {
		t.Fatal("Init should fail with an unknown signal backend")
	}
}

// unreachableSignal fails to join and records whether it was closed.
type unreachableSignal struct {
	sync.Mutex
	consumer chan signal.Message
	closed   bool
}

func (s *unreachableSignal) ID() string { return "alice" }

func (s *unreachableSignal) Join(room string, displayName string) error {
	return errors.New("signaling server unreachable")
}

func (s *unreachableSignal) Send(msg signal.Message) error { return nil }

func (s *unreachableSignal) Consumer() <-chan signal.Message { return s.consumer }

func (s *unreachableSignal) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func (s *unreachableSignal) isClosed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closed
}

func TestRunClosesSignalWhenJoinFails(t *testing.T) {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.PeerID = "alice"
	conf.NoService = true

	sig := &unreachableSignal{consumer: make(chan signal.Message)}

	p := NewParley(conf)
	p.Signal = sig

	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("Run should fail when the room cannot be joined")
	}

	if !sig.isClosed() {
		t.Fatal("signal should be closed after a failed join")
	}
}
