package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/parley/src/media"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceInterval = 20 * time.Millisecond

// ErrSourceStopped is returned when writing to a stopped source.
var ErrSourceStopped = errors.New("source stopped")

// SampleSource is a local media source backed by a TrackLocalStaticSample.
// Frames are pushed with WriteSample by the capture collaborator. Microphone
// sources produce silence until Stop is called.
type SampleSource struct {
	track  *webrtc.TrackLocalStaticSample
	origin media.Origin

	mu      sync.Mutex
	stopped bool
	ended   chan struct{}
}

// NewSampleSource creates a source of the given origin. Microphones carry
// Opus, cameras and screens carry VP8.
func NewSampleSource(origin media.Origin, stream string) (*SampleSource, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if origin.Kind() == webrtc.RTPCodecTypeAudio {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		capability,
		fmt.Sprintf("%s-%s", origin, uuid.New().String()[:8]),
		stream,
	)
	if err != nil {
		return nil, err
	}

	s := &SampleSource{
		track:  track,
		origin: origin,
		ended:  make(chan struct{}),
	}

	if origin == media.Microphone {
		go s.silence()
	}

	return s, nil
}

// Track implements media.Source.
func (s *SampleSource) Track() webrtc.TrackLocal {
	return s.track
}

// Origin implements media.Source.
func (s *SampleSource) Origin() media.Origin {
	return s.origin
}

// Ended implements media.Source. The channel is closed when the source stops.
func (s *SampleSource) Ended() <-chan struct{} {
	return s.ended
}

// WriteSample sends a frame on the track.
func (s *SampleSource) WriteSample(sample pmedia.Sample) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrSourceStopped
	}
	return s.track.WriteSample(sample)
}

// Stop implements media.Source. It is safe to call more than once.
func (s *SampleSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.ended)
}

func (s *SampleSource) silence() {
	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ended:
			return
		case <-ticker.C:
			// Errors are expected while the track is not bound to any sender.
			s.WriteSample(pmedia.Sample{Data: opusSilence, Duration: silenceInterval})
		}
	}
}

// SampleCapturer implements media.Capturer with SampleSources. Every source
// of a participant shares the same stream id.
type SampleCapturer struct {
	stream string
}

// NewSampleCapturer ...
func NewSampleCapturer(stream string) *SampleCapturer {
	return &SampleCapturer{stream: stream}
}

// Capture implements media.Capturer.
func (c *SampleCapturer) Capture(ctx context.Context, origin media.Origin) (media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewSampleSource(origin, c.stream)
}
