// Package rtc implements peer.Transport with pion WebRTC peer connections.
package rtc

import (
	"sync"

	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Factory creates the pion peer connections of a participant. All the
// connections share one API object.
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     *logrus.Entry
}

// NewFactory builds the media engine, with the default codecs and
// interceptors, and the API object used by every connection.
func NewFactory(iceServers []webrtc.ICEServer, logger *logrus.Entry) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{}
	s.LoggerFactory = NewLoggerFactory(logger.WithField("component", "pion"))

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	)

	return &Factory{
		api:        api,
		iceServers: iceServers,
		logger:     logger,
	}, nil
}

// NewTransport implements peer.TransportFactory.
func (f *Factory) NewTransport(id string, observer peer.Observer) (peer.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.iceServers,
	})
	if err != nil {
		return nil, err
	}

	logger := f.logger.WithField("peer", id)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		observer.OnLocalCandidate(c.ToJSON())
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.WithField("state", state.String()).Debug("ICE Connection State has changed")
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		observer.OnConnectionStateChange(state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		observer.OnRemoteTrack(track)
	})

	return &Transport{pc: pc}, nil
}

// Transport wraps a pion PeerConnection.
type Transport struct {
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
	closeErr  error
}

// CreateOffer implements peer.Transport.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer implements peer.Transport.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription implements peer.Transport.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription implements peer.Transport.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// AddICECandidate implements peer.Transport.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// AddTrack implements peer.Transport.
func (t *Transport) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Read incoming RTCP packets. Before these packets are returned they are
	// processed by interceptors.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}

// SenderFor implements peer.Transport. It looks for a transceiver of the
// given kind that has a sender, whether or not a track is attached to it.
func (t *Transport) SenderFor(kind webrtc.RTPCodecType) (peer.Sender, bool) {
	for _, tr := range t.pc.GetTransceivers() {
		if tr.Kind() != kind {
			continue
		}
		if s := tr.Sender(); s != nil {
			return s, true
		}
	}
	return nil, false
}

// Close implements peer.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}
