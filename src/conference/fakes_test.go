package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/media"
	"github.com/mosaicnetworks/parley/src/net/rtc"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/net/signal/inmem"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/pion/webrtc/v4"
)

var errSenderGone = errors.New("sender gone")

type fakeSender struct {
	sync.Mutex
	owner *fakeTransport
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	if s.owner.failing() {
		return errSenderGone
	}
	s.Lock()
	defer s.Unlock()
	s.track = track
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.Lock()
	defer s.Unlock()
	return s.track
}

// fakeTransport accepts every description and reports the connection as
// connected once both descriptions are set.
type fakeTransport struct {
	sync.Mutex
	id          string
	observer    peer.Observer
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	senders     map[webrtc.RTPCodecType]*fakeSender
	connected   bool
	failReplace bool
	closed      bool
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + f.id}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.id}, nil
}

func (f *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.Lock()
	f.local = &sdp
	f.Unlock()
	f.checkConnected()
	return nil
}

func (f *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.Lock()
	f.remote = &sdp
	f.Unlock()
	f.checkConnected()
	return nil
}

func (f *fakeTransport) checkConnected() {
	f.Lock()
	ready := !f.connected && f.local != nil && f.remote != nil
	if ready {
		f.connected = true
	}
	f.Unlock()

	if ready {
		f.observer.OnConnectionStateChange(webrtc.PeerConnectionStateConnected)
	}
}

func (f *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	f.Lock()
	defer f.Unlock()
	s := &fakeSender{owner: f, track: track}
	f.senders[track.Kind()] = s
	return s, nil
}

func (f *fakeTransport) SenderFor(kind webrtc.RTPCodecType) (peer.Sender, bool) {
	f.Lock()
	defer f.Unlock()
	s, ok := f.senders[kind]
	return s, ok
}

func (f *fakeTransport) Close() error {
	f.Lock()
	defer f.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.Lock()
	defer f.Unlock()
	return f.closed
}

func (f *fakeTransport) failing() bool {
	f.Lock()
	defer f.Unlock()
	return f.failReplace
}

func (f *fakeTransport) sent(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	f.Lock()
	s, ok := f.senders[kind]
	f.Unlock()
	if !ok {
		return nil
	}
	return s.Track()
}

// fakeNet records the transports created by every participant, keyed by
// "self->peer".
type fakeNet struct {
	sync.Mutex
	transports map[string]*fakeTransport
}

func newFakeNet() *fakeNet {
	return &fakeNet{transports: make(map[string]*fakeTransport)}
}

func (n *fakeNet) factory(self string) peer.TransportFactory {
	return func(id string, observer peer.Observer) (peer.Transport, error) {
		t := &fakeTransport{
			id:       id,
			observer: observer,
			senders:  make(map[webrtc.RTPCodecType]*fakeSender),
		}
		n.Lock()
		n.transports[self+"->"+id] = t
		n.Unlock()
		return t, nil
	}
}

func (n *fakeNet) transport(self, id string) *fakeTransport {
	n.Lock()
	defer n.Unlock()
	return n.transports[self+"->"+id]
}

type peerStatus struct {
	peer    string
	status  signal.Type
	enabled *bool
}

type recordingListener struct {
	sync.Mutex
	tracks    []string
	connected []string
	failed    []string
	removed   []string
	statuses  []peerStatus
}

func (l *recordingListener) OnRemoteTrack(peer string, kind webrtc.RTPCodecType, track peer.RemoteTrack) {
	l.Lock()
	defer l.Unlock()
	l.tracks = append(l.tracks, fmt.Sprintf("%s:%s", peer, kind))
}

func (l *recordingListener) OnPeerConnected(peer string) {
	l.Lock()
	defer l.Unlock()
	l.connected = append(l.connected, peer)
}

func (l *recordingListener) OnPeerFailed(peer string, err error) {
	l.Lock()
	defer l.Unlock()
	l.failed = append(l.failed, peer)
}

func (l *recordingListener) OnPeerRemoved(peer string) {
	l.Lock()
	defer l.Unlock()
	l.removed = append(l.removed, peer)
}

func (l *recordingListener) OnPeerStatus(peer string, status signal.Type, enabled *bool) {
	l.Lock()
	defer l.Unlock()
	l.statuses = append(l.statuses, peerStatus{peer: peer, status: status, enabled: enabled})
}

func (l *recordingListener) hasStatus(peer string, status signal.Type) bool {
	l.Lock()
	defer l.Unlock()
	for _, s := range l.statuses {
		if s.peer == peer && s.status == status {
			return true
		}
	}
	return false
}

func (l *recordingListener) contains(list *[]string, peer string) bool {
	l.Lock()
	defer l.Unlock()
	for _, p := range *list {
		if p == peer {
			return true
		}
	}
	return false
}

type deniedCapturer struct {
	media.Capturer
	denied media.Origin
}

func (c deniedCapturer) Capture(ctx context.Context, origin media.Origin) (media.Source, error) {
	if origin == c.denied {
		return nil, errors.New("permission denied")
	}
	return c.Capturer.Capture(ctx, origin)
}

type participant struct {
	*Conference
	id       string
	listener *recordingListener
	store    *store.InmemStore
}

type testRoom struct {
	t   *testing.T
	hub *inmem.Hub
	net *fakeNet
}

func newTestRoom(t *testing.T) *testRoom {
	return &testRoom{
		t:   t,
		hub: inmem.NewHub(common.NewTestEntry(t, common.TestLogLevel)),
		net: newFakeNet(),
	}
}

func (r *testRoom) participant(id string, edit func(*config.Config), capturer media.Capturer) *participant {
	conf := config.NewTestConfig(r.t, common.TestLogLevel)
	conf.PeerID = id
	conf.DisplayName = "Participant " + id
	if edit != nil {
		edit(conf)
	}

	if capturer == nil {
		capturer = rtc.NewSampleCapturer(id)
	}

	listener := &recordingListener{}
	st := store.NewInmemStore()

	c := NewConference(
		conf,
		r.hub.Connect(id),
		r.net.factory(id),
		capturer,
		st,
		listener,
	)

	r.t.Cleanup(c.LeaveAll)

	return &participant{
		Conference: c,
		id:         id,
		listener:   listener,
		store:      st,
	}
}

func (r *testRoom) join(id string) *participant {
	p := r.participant(id, nil, nil)
	if err := p.JoinRoom(context.Background()); err != nil {
		r.t.Fatal(err)
	}
	return p
}
