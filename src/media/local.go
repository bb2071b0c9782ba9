package media

import (
	"context"
	"errors"
	"sync"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/sirupsen/logrus"
)

// Mode describes which local media could be acquired.
type Mode string

// Acquisition modes.
const (
	AudioVideo Mode = "audio-video"
	AudioOnly  Mode = "audio-only"
	VideoOnly  Mode = "video-only"
	NoMedia    Mode = "no-media"
)

// LocalMedia holds the local sources of a participant.
type LocalMedia struct {
	capturer Capturer
	logger   *logrus.Entry

	mu      sync.Mutex
	sources map[Origin]Source
	errs    map[Origin]error
}

// NewLocalMedia ...
func NewLocalMedia(capturer Capturer, logger *logrus.Entry) *LocalMedia {
	return &LocalMedia{
		capturer: capturer,
		logger:   logger,
		sources:  make(map[Origin]Source),
		errs:     make(map[Origin]error),
	}
}

// Acquire captures the microphone and/or the camera. A device that cannot be
// acquired does not prevent the other from being used: the returned error
// lists the ResourceUnavailable failures, and the session continues in a
// degraded mode.
func (m *LocalMedia) Acquire(ctx context.Context, audio, video bool) error {
	var errs []error

	if audio {
		if _, err := m.capture(ctx, Microphone); err != nil {
			errs = append(errs, err)
		}
	}

	if video {
		if _, err := m.capture(ctx, Camera); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.WithField("mode", m.Mode()).Info("Local media acquired")

	return errors.Join(errs...)
}

func (m *LocalMedia) capture(ctx context.Context, origin Origin) (Source, error) {
	src, err := m.capturer.Capture(ctx, origin)
	if err != nil {
		err = common.NewErr(common.ResourceUnavailable, "", origin.String(), err)

		m.mu.Lock()
		m.errs[origin] = err
		m.mu.Unlock()

		m.logger.WithError(err).Warn("Local media unavailable")
		return nil, err
	}

	m.mu.Lock()
	if prev, ok := m.sources[origin]; ok {
		prev.Stop()
	}
	m.sources[origin] = src
	delete(m.errs, origin)
	m.mu.Unlock()

	m.logger.WithField("origin", origin).Debug("Captured local source")

	return src, nil
}

// Source returns the active source of an origin, or nil.
func (m *LocalMedia) Source(origin Origin) Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[origin]
}

// CaptureScreen starts a screen capture, replacing any previous one.
func (m *LocalMedia) CaptureScreen(ctx context.Context) (Source, error) {
	return m.capture(ctx, Screen)
}

// ReleaseScreen stops the screen capture, if any.
func (m *LocalMedia) ReleaseScreen() {
	m.release(Screen)
}

func (m *LocalMedia) release(origin Origin) {
	m.mu.Lock()
	src, ok := m.sources[origin]
	delete(m.sources, origin)
	m.mu.Unlock()

	if ok {
		src.Stop()
	}
}

// Mode reports which of the microphone and the camera are available.
func (m *LocalMedia) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, audio := m.sources[Microphone]
	_, video := m.sources[Camera]

	switch {
	case audio && video:
		return AudioVideo
	case audio:
		return AudioOnly
	case video:
		return VideoOnly
	default:
		return NoMedia
	}
}

// Errors returns the acquisition failure of each unavailable origin.
func (m *LocalMedia) Errors() map[Origin]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[Origin]error, len(m.errs))
	for o, err := range m.errs {
		res[o] = err
	}
	return res
}

// Stop synchronously stops every local source. LocalMedia can be reused with
// Acquire afterwards.
func (m *LocalMedia) Stop() {
	m.mu.Lock()
	sources := m.sources
	m.sources = make(map[Origin]Source)
	m.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}

	m.logger.WithField("sources", len(sources)).Debug("Local media stopped")
}
