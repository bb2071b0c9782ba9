package peer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestGetOrCreateKeepsFirstRole(t *testing.T) {
	registry, _, _ := newTestRegistry(t, &recordingSignaler{}, nil)

	first, created, err := registry.GetOrCreate("alice", Responder)
	if err != nil || !created {
		t.Fatalf("first call should create the connection: %v", err)
	}

	second, created, err := registry.GetOrCreate("alice", Initiator)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatalf("second call should reuse the connection")
	}
	if first != second {
		t.Fatalf("both calls should return the same engine")
	}
	if second.Role() != Responder {
		t.Fatalf("role should stay Responder, not %s", second.Role())
	}

	if registry.Len() != 1 {
		t.Fatalf("registry should hold 1 connection, not %d", registry.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry, factory, listener := newTestRegistry(t, &recordingSignaler{}, nil)

	e, _, _ := registry.GetOrCreate("alice", Responder)
	registry.HandleCandidate("alice", candidate("c1"))

	if !registry.Remove("alice") {
		t.Fatalf("first Remove should report the removal")
	}
	if registry.Remove("alice") {
		t.Fatalf("second Remove should be a no-op")
	}
	if registry.Remove("nobody") {
		t.Fatalf("removing an unknown peer should be a no-op")
	}

	if e.State() != Closed {
		t.Fatalf("removed engine should be Closed, not %s", e.State())
	}

	transport := factory.get("alice")
	transport.Lock()
	closed := transport.closed
	transport.Unlock()
	if !closed {
		t.Fatalf("transport should be closed")
	}

	<-e.Done()

	if registry.Pending("alice") != 0 {
		t.Fatalf("pending candidates should be dropped")
	}

	_, _, removed, _ := listener.snapshot()
	if len(removed) != 1 || removed[0] != "alice" {
		t.Fatalf("expected exactly one removal event, got %v", removed)
	}

	if err := e.ReplaceTrack(context.Background(), webrtc.RTPCodecTypeVideo, nil); err != ErrClosed {
		t.Fatalf("requests to a closed engine should return ErrClosed, got %v", err)
	}
}

func TestRemoveAll(t *testing.T) {
	registry, _, listener := newTestRegistry(t, &recordingSignaler{}, nil)

	for _, id := range []string{"carol", "alice", "bob"} {
		if _, _, err := registry.GetOrCreate(id, Responder); err != nil {
			t.Fatal(err)
		}
	}

	entries := registry.Entries()
	if len(entries) != 3 || entries[0].ID() != "alice" || entries[2].ID() != "carol" {
		t.Fatalf("entries should be sorted by id")
	}

	registry.RemoveAll()

	if registry.Len() != 0 {
		t.Fatalf("registry should be empty")
	}

	for _, e := range entries {
		if e.State() != Closed {
			t.Fatalf("%s should be Closed", e.ID())
		}
	}

	_, _, removed, _ := listener.snapshot()
	if len(removed) != 3 {
		t.Fatalf("expected 3 removal events, got %d", len(removed))
	}
}

func TestCandidateForUnknownPeer(t *testing.T) {
	registry, factory, _ := newTestRegistry(t, &recordingSignaler{}, nil)

	registry.HandleCandidate("dave", candidate("early"))
	if registry.Pending("dave") != 1 {
		t.Fatalf("candidate for an unknown peer should be buffered")
	}

	e, _, _ := registry.GetOrCreate("dave", Responder)
	e.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})

	waitFor(t, "Stable", func() bool { return e.State() == Stable })

	applied := factory.get("dave").appliedCandidates()
	if len(applied) != 1 || applied[0] != "early" {
		t.Fatalf("early candidate should be applied, got %v", applied)
	}
}

func TestCandidateRacingCreation(t *testing.T) {
	registry, factory, _ := newTestRegistry(t, &recordingSignaler{}, nil)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("peer-%d", i)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.HandleCandidate(id, candidate("c-"+id))
		}()
		go func() {
			defer wg.Done()
			e, _, err := registry.GetOrCreate(id, Responder)
			if err != nil {
				t.Error(err)
				return
			}
			e.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + id})
		}()
		wg.Wait()

		transport := factory.get(id)
		waitFor(t, "candidate of "+id, func() bool {
			applied := transport.appliedCandidates()
			return len(applied) == 1 && applied[0] == "c-"+id
		})

		if n := registry.Pending(id); n != 0 {
			t.Fatalf("%s: %d candidates left in the buffer", id, n)
		}
	}
}
