package peer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

var errRejected = errors.New("rejected")

type fakeSender struct {
	sync.Mutex
	track webrtc.TrackLocal
	fail  error
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.Lock()
	defer s.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.track = track
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.Lock()
	defer s.Unlock()
	return s.track
}

type fakeTransport struct {
	sync.Mutex
	id         string
	observer   Observer
	ops        []string
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    map[webrtc.RTPCodecType]*fakeSender
	closed     bool
	failRemote error
	failAnswer int
	reject     map[string]bool
	offers     int
}

func newFakeTransport(id string, observer Observer) *fakeTransport {
	return &fakeTransport{
		id:       id,
		observer: observer,
		senders:  make(map[webrtc.RTPCodecType]*fakeSender),
		reject:   make(map[string]bool),
	}
}

func (f *fakeTransport) record(op string) {
	f.ops = append(f.ops, op)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.Lock()
	defer f.Unlock()
	f.offers++
	f.record("create-offer")
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%s-%d", f.id, f.offers),
	}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.Lock()
	defer f.Unlock()
	f.record("create-answer")
	if f.failAnswer > 0 {
		f.failAnswer--
		return webrtc.SessionDescription{}, errRejected
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.id}, nil
}

func (f *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.Lock()
	defer f.Unlock()
	f.record("set-local")
	f.local = &sdp
	return nil
}

func (f *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.Lock()
	defer f.Unlock()
	f.record("set-remote")
	if f.failRemote != nil {
		return f.failRemote
	}
	f.remote = &sdp
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.Lock()
	defer f.Unlock()
	if f.remote == nil {
		return errors.New("no remote description")
	}
	if f.reject[c.Candidate] {
		return errRejected
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	f.Lock()
	defer f.Unlock()
	f.record("add-track-" + track.Kind().String())
	s := &fakeSender{track: track}
	f.senders[track.Kind()] = s
	return s, nil
}

func (f *fakeTransport) SenderFor(kind webrtc.RTPCodecType) (Sender, bool) {
	f.Lock()
	defer f.Unlock()
	s, ok := f.senders[kind]
	if !ok {
		return nil, false
	}
	return s, true
}

func (f *fakeTransport) Close() error {
	f.Lock()
	defer f.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) appliedCandidates() []string {
	f.Lock()
	defer f.Unlock()
	res := []string{}
	for _, c := range f.candidates {
		res = append(res, c.Candidate)
	}
	return res
}

func (f *fakeTransport) opsCopy() []string {
	f.Lock()
	defer f.Unlock()
	return append([]string{}, f.ops...)
}

func (f *fakeTransport) sender(kind webrtc.RTPCodecType) *fakeSender {
	f.Lock()
	defer f.Unlock()
	return f.senders[kind]
}

// fakeFactory creates fakeTransports and keeps track of them by peer id.
type fakeFactory struct {
	sync.Mutex
	transports map[string]*fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[string]*fakeTransport)}
}

func (f *fakeFactory) create(id string, observer Observer) (Transport, error) {
	f.Lock()
	defer f.Unlock()
	t := newFakeTransport(id, observer)
	f.transports[id] = t
	return t, nil
}

func (f *fakeFactory) get(id string) *fakeTransport {
	f.Lock()
	defer f.Unlock()
	return f.transports[id]
}

type sent struct {
	to        string
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

// recordingSignaler keeps the messages sent through it.
type recordingSignaler struct {
	sync.Mutex
	offers     []sent
	answers    []sent
	candidates []sent
}

func (s *recordingSignaler) SendOffer(to string, sdp webrtc.SessionDescription) error {
	s.Lock()
	defer s.Unlock()
	s.offers = append(s.offers, sent{to: to, sdp: sdp})
	return nil
}

func (s *recordingSignaler) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	s.Lock()
	defer s.Unlock()
	s.answers = append(s.answers, sent{to: to, sdp: sdp})
	return nil
}

func (s *recordingSignaler) SendCandidate(to string, c webrtc.ICECandidateInit) error {
	s.Lock()
	defer s.Unlock()
	s.candidates = append(s.candidates, sent{to: to, candidate: c})
	return nil
}

func (s *recordingSignaler) counts() (int, int, int) {
	s.Lock()
	defer s.Unlock()
	return len(s.offers), len(s.answers), len(s.candidates)
}

// wireSignaler delivers messages directly to the Engine that represents the
// sender inside the remote Registry.
type wireSignaler struct {
	self   string
	remote func() *Registry
}

func (w *wireSignaler) SendOffer(to string, sdp webrtc.SessionDescription) error {
	if e, ok := w.remote().Get(w.self); ok {
		e.HandleOffer(sdp)
	}
	return nil
}

func (w *wireSignaler) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	if e, ok := w.remote().Get(w.self); ok {
		e.HandleAnswer(sdp)
	}
	return nil
}

func (w *wireSignaler) SendCandidate(to string, c webrtc.ICECandidateInit) error {
	w.remote().HandleCandidate(w.self, c)
	return nil
}

type recordingListener struct {
	sync.Mutex
	connected []string
	failed    []string
	removed   []string
	tracks    []string
}

func (l *recordingListener) OnRemoteTrack(peer string, track RemoteTrack) {
	l.Lock()
	defer l.Unlock()
	l.tracks = append(l.tracks, peer+"/"+track.ID())
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

func (l *recordingListener) snapshot() (connected, failed, removed, tracks []string) {
	l.Lock()
	defer l.Unlock()
	cp := func(s []string) []string { return append([]string{}, s...) }
	return cp(l.connected), cp(l.failed), cp(l.removed), cp(l.tracks)
}

type staticTracks []webrtc.TrackLocal

func (s staticTracks) Tracks() []webrtc.TrackLocal {
	return s
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (r fakeRemoteTrack) ID() string                { return r.id }
func (r fakeRemoteTrack) StreamID() string          { return "stream-" + r.id }
func (r fakeRemoteTrack) Kind() webrtc.RTPCodecType { return r.kind }

func newTestTrack(t testing.TB, kind webrtc.RTPCodecType, id string) webrtc.TrackLocal {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		id,
		"local",
	)
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func candidate(name string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: name}
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
