package conference

import (
	"context"
	"testing"
	"time"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/media"
	"github.com/mosaicnetworks/parley/src/net/rtc"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func stableWith(p *participant, id string, role peer.Role) func() bool {
	return func() bool {
		e, ok := p.Registry().Get(id)
		return ok && e.Role() == role && e.State() == peer.Stable
	}
}

func TestAloneInRoom(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")

	// give the router time to process the empty snapshot
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 0, a.Registry().Len())
	require.Equal(t, "1", a.GetStats()["participants"])
	require.Equal(t, "Joined", a.GetStats()["state"])
}

func TestSecondParticipant(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	b := room.join("b")

	// a learns about b through user-connected and initiates, b finds a in the
	// snapshot and responds.
	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)
	require.Eventually(t, stableWith(b, "a", peer.Responder), waitFor, tick)

	require.Eventually(t, func() bool {
		return a.listener.contains(&a.listener.connected, "b") &&
			b.listener.contains(&b.listener.connected, "a")
	}, waitFor, tick)

	stats := a.GetStats()
	require.Equal(t, "2", stats["participants"])
	require.Equal(t, "1", stats["connected"])

	peers := b.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "a", peers[0].ID)
	require.Equal(t, "Participant a", peers[0].DisplayName)
	require.Equal(t, peer.Responder.String(), peers[0].Role)

	// b's local tracks are attached to its connection to a
	ta := room.net.transport("b", "a")
	require.NotNil(t, ta.sent(webrtc.RTPCodecTypeAudio))
	require.NotNil(t, ta.sent(webrtc.RTPCodecTypeVideo))
}

func TestPeerLeaves(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	b := room.join("b")

	require.Eventually(t, func() bool {
		return a.listener.contains(&a.listener.connected, "b")
	}, waitFor, tick)

	b.LeaveAll()

	require.Eventually(t, func() bool {
		return a.Registry().Len() == 0 && len(a.Roster()) == 0
	}, waitFor, tick)

	require.True(t, a.listener.contains(&a.listener.removed, "b"))
	require.True(t, room.net.transport("a", "b").isClosed())

	history, err := a.History()
	require.NoError(t, err)

	var events []store.EventType
	for _, r := range history {
		if r.Peer == "b" {
			events = append(events, r.Event)
		}
	}
	require.Contains(t, events, store.PeerJoined)
	require.Equal(t, store.PeerLeft, events[len(events)-1])

	// b tore down its own side and cannot rejoin with the same Conference
	require.Equal(t, 0, b.Registry().Len())
	require.Equal(t, "Left", b.GetStats()["state"])
	require.Equal(t, ErrLeft, b.JoinRoom(context.Background()))

	// leaving twice is harmless
	b.LeaveAll()
}

func TestScreenShareWithFailingPeer(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	b := room.join("b")
	c := room.join("c")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)
	require.Eventually(t, stableWith(a, "c", peer.Initiator), waitFor, tick)

	room.net.transport("a", "c").Lock()
	room.net.transport("a", "c").failReplace = true
	room.net.transport("a", "c").Unlock()

	sharing, report, err := a.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	require.True(t, sharing)

	require.Equal(t, []string{"b"}, report.Replaced)
	require.Contains(t, report.Failed, "c")
	require.True(t, common.IsErr(report.Failed["c"], common.TransportFailure))

	// b's sender carries the screen, c's connection is untouched
	screen := room.net.transport("a", "b").sent(webrtc.RTPCodecTypeVideo)
	require.NotNil(t, screen)
	require.Contains(t, screen.ID(), media.Screen.String())

	ec, ok := a.Registry().Get("c")
	require.True(t, ok)
	require.Equal(t, peer.Stable, ec.State())
	require.False(t, ec.Failed())

	require.Eventually(t, func() bool {
		return b.listener.hasStatus("a", signal.ScreenShareStarted) &&
			c.listener.hasStatus("a", signal.ScreenShareStarted)
	}, waitFor, tick)

	sharing, report, err = a.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	require.False(t, sharing)
	require.Equal(t, []string{"b"}, report.Replaced)

	camera := room.net.transport("a", "b").sent(webrtc.RTPCodecTypeVideo)
	require.Contains(t, camera.ID(), media.Camera.String())

	require.Eventually(t, func() bool {
		return b.listener.hasStatus("a", signal.ScreenShareStopped)
	}, waitFor, tick)
}

func TestMuteBroadcast(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	b := room.join("b")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)

	report, err := a.SetMuted(context.Background(), webrtc.RTPCodecTypeAudio, true)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Nil(t, room.net.transport("a", "b").sent(webrtc.RTPCodecTypeAudio))
	require.Equal(t, "true", a.GetStats()["audio_muted"])

	require.Eventually(t, func() bool {
		b.listener.Lock()
		defer b.listener.Unlock()
		for _, s := range b.listener.statuses {
			if s.peer == "a" && s.status == signal.ToggleAudio && s.enabled != nil && !*s.enabled {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestLeaveWhileSharing(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	b := room.join("b")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)

	sharing, _, err := a.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	require.True(t, sharing)

	require.Eventually(t, func() bool {
		return b.listener.hasStatus("a", signal.ScreenShareStarted)
	}, waitFor, tick)

	a.LeaveAll()

	require.Eventually(t, func() bool {
		return b.listener.contains(&b.listener.removed, "a")
	}, waitFor, tick)

	require.False(t, b.listener.hasStatus("a", signal.ScreenShareStopped))
}

func TestOfferFromUnknownPeer(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-z"}
	a.dispatch(signal.Message{
		Type: signal.Offer,
		From: "z",
		To:   "a",
		SDP:  &sdp,
	})

	require.Eventually(t, stableWith(a, "z", peer.Responder), waitFor, tick)
	require.Len(t, a.Roster(), 1)

	// an answer from a peer without connection is dropped
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-y"}
	a.dispatch(signal.Message{Type: signal.Answer, From: "y", To: "a", SDP: &answer})
	_, ok := a.Registry().Get("y")
	require.False(t, ok)

	// messages directed to someone else are ignored
	a.dispatch(signal.Message{Type: signal.Offer, From: "x", To: "w", SDP: &sdp})
	_, ok = a.Registry().Get("x")
	require.False(t, ok)
}

func TestCandidateBeforeConnection(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")

	a.dispatch(signal.Message{
		Type:      signal.ICECandidate,
		From:      "z",
		To:        "a",
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"},
	})

	require.Equal(t, 1, a.Registry().Pending("z"))

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-z"}
	a.dispatch(signal.Message{Type: signal.Offer, From: "z", To: "a", SDP: &sdp})

	require.Eventually(t, func() bool {
		return a.Registry().Pending("z") == 0
	}, waitFor, tick)
}

func TestFailedPeerRetained(t *testing.T) {
	room := newTestRoom(t)

	a := room.join("a")
	room.join("b")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)

	room.net.transport("a", "b").observer.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool {
		return a.listener.contains(&a.listener.failed, "b")
	}, waitFor, tick)

	e, ok := a.Registry().Get("b")
	require.True(t, ok)
	require.True(t, e.Failed())
	require.Equal(t, "1", a.GetStats()["failed"])
}

func TestFailedPeerRemoved(t *testing.T) {
	room := newTestRoom(t)

	a := room.participant("a", func(c *config.Config) {
		c.RemoveOnFailure = true
	}, nil)
	require.NoError(t, a.JoinRoom(context.Background()))

	room.join("b")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)

	room.net.transport("a", "b").observer.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool {
		_, ok := a.Registry().Get("b")
		return !ok && a.listener.contains(&a.listener.removed, "b")
	}, waitFor, tick)
	require.Len(t, a.Roster(), 0)
}

func TestDegradedMedia(t *testing.T) {
	room := newTestRoom(t)

	a := room.participant("a", nil, deniedCapturer{
		Capturer: rtc.NewSampleCapturer("a"),
		denied:   media.Camera,
	})
	require.NoError(t, a.JoinRoom(context.Background()))

	require.True(t, common.IsErr(a.MediaError(), common.ResourceUnavailable))

	stats := a.GetStats()
	require.Equal(t, string(media.AudioOnly), stats["media"])
	require.Equal(t, "true", stats["degraded"])

	room.join("b")

	require.Eventually(t, stableWith(a, "b", peer.Initiator), waitFor, tick)

	// only the microphone is attached
	tb := room.net.transport("a", "b")
	require.NotNil(t, tb.sent(webrtc.RTPCodecTypeAudio))
	require.Nil(t, tb.sent(webrtc.RTPCodecTypeVideo))
}
