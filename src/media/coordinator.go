package media

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotSharing is returned when stopping a screen share that is not active.
var ErrNotSharing = errors.New("screen share not active")

// Target is a peer connection whose outbound tracks can be replaced.
type Target interface {
	ID() string
	State() peer.SignalingState
	ReplaceTrack(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
}

// Targets lists the current peer connections.
type Targets interface {
	Targets() []Target
}

// Notifier broadcasts presentation status to the room. enabled is nil for
// the screen share events.
type Notifier interface {
	Notify(t signal.Type, enabled *bool) error
}

// Report is the outcome of a fan-out across peer connections.
type Report struct {
	Replaced []string
	Failed   map[string]error
}

// OK reports whether every replacement succeeded.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Coordinator selects the outbound source of each kind and propagates its
// changes to every peer connection. It implements peer.LocalTracks so that
// new connections start with the current sources.
type Coordinator struct {
	local    *LocalMedia
	targets  Targets
	notifier Notifier
	logger   *logrus.Entry

	// serializes user actions
	opMu sync.Mutex

	mu      sync.Mutex
	video   Source
	screen  Source
	muted   map[webrtc.RTPCodecType]bool
	restore chan struct{}
}

// NewCoordinator ...
func NewCoordinator(local *LocalMedia, targets Targets, notifier Notifier, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		local:    local,
		targets:  targets,
		notifier: notifier,
		logger:   logger,
		muted:    make(map[webrtc.RTPCodecType]bool),
	}
}

// Tracks implements peer.LocalTracks.
func (c *Coordinator) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res []webrtc.TrackLocal
	if t := c.trackLocked(webrtc.RTPCodecTypeAudio); t != nil {
		res = append(res, t)
	}
	if t := c.trackLocked(webrtc.RTPCodecTypeVideo); t != nil {
		res = append(res, t)
	}
	return res
}

// trackLocked returns the track currently sent for a kind.
func (c *Coordinator) trackLocked(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if c.muted[kind] {
		return nil
	}

	var src Source
	if kind == webrtc.RTPCodecTypeAudio {
		src = c.local.Source(Microphone)
	} else {
		src = c.video
		if src == nil {
			src = c.local.Source(Camera)
		}
	}

	if src == nil {
		return nil
	}
	return src.Track()
}

// SwitchSource makes source the outbound source of its kind and replaces
// the corresponding track on every peer connection. Each connection is
// updated independently: a failure is reported for that peer only and does
// not alter the source used by the others.
func (c *Coordinator) SwitchSource(ctx context.Context, source Source) Report {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.switchSource(ctx, source)
}

func (c *Coordinator) switchSource(ctx context.Context, source Source) Report {
	kind := source.Origin().Kind()

	c.mu.Lock()
	if kind == webrtc.RTPCodecTypeVideo {
		c.video = source
	}
	track := c.trackLocked(kind)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"origin": source.Origin(),
		"kind":   kind,
	}).Debug("Switching outbound source")

	return c.fanOut(ctx, kind, track)
}

// fanOut replaces the track of a kind on every live connection, concurrently.
func (c *Coordinator) fanOut(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) Report {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report = Report{Failed: make(map[string]error)}
	)

	for _, t := range c.targets.Targets() {
		if t.State() == peer.Closed {
			continue
		}

		wg.Add(1)
		go func(t Target) {
			defer wg.Done()

			err := t.ReplaceTrack(ctx, kind, track)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				c.logger.WithField("peer", t.ID()).WithError(err).Warn("Track replacement failed")
				report.Failed[t.ID()] = err
				return
			}
			report.Replaced = append(report.Replaced, t.ID())
		}(t)
	}

	wg.Wait()

	sort.Strings(report.Replaced)

	return report
}

// Sharing reports whether the screen is being shared.
func (c *Coordinator) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StartScreenShare captures the screen, sends it instead of the camera and
// notifies the room. When the capture ends externally, the camera is
// restored automatically.
func (c *Coordinator) StartScreenShare(ctx context.Context) (Report, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	screen, err := c.local.CaptureScreen(ctx)
	if err != nil {
		return Report{}, err
	}

	c.mu.Lock()
	if c.restore != nil {
		close(c.restore)
	}
	restore := make(chan struct{})
	c.screen = screen
	c.restore = restore
	c.mu.Unlock()

	report := c.switchSource(ctx, screen)

	if err := c.notifier.Notify(signal.ScreenShareStarted, nil); err != nil {
		c.logger.WithError(err).Warn("Notifying screen share")
	}

	go c.watch(screen, restore)

	return report, nil
}

func (c *Coordinator) watch(screen Source, restore chan struct{}) {
	select {
	case <-restore:
	case <-screen.Ended():
		c.logger.Debug("Screen capture ended, restoring camera")
		if _, err := c.stopScreenShare(context.Background(), screen); err != nil && err != ErrNotSharing {
			c.logger.WithError(err).Warn("Restoring camera")
		}
	}
}

// StopScreenShare restores the camera on every peer connection, releases the
// screen capture and notifies the room.
func (c *Coordinator) StopScreenShare(ctx context.Context) (Report, error) {
	return c.stopScreenShare(ctx, nil)
}

// stopScreenShare only acts on the given screen source when one is passed, so
// that a stale watcher cannot end a newer share.
func (c *Coordinator) stopScreenShare(ctx context.Context, screen Source) (Report, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.screen == nil || (screen != nil && c.screen != screen) {
		c.mu.Unlock()
		return Report{}, ErrNotSharing
	}
	if c.restore != nil {
		close(c.restore)
		c.restore = nil
	}
	c.screen = nil
	c.video = nil
	track := c.trackLocked(webrtc.RTPCodecTypeVideo)
	c.mu.Unlock()

	report := c.fanOut(ctx, webrtc.RTPCodecTypeVideo, track)

	c.local.ReleaseScreen()

	if err := c.notifier.Notify(signal.ScreenShareStopped, nil); err != nil {
		c.logger.WithError(err).Warn("Notifying screen share")
	}

	return report, nil
}

// ToggleScreenShare starts or stops the screen share and returns whether the
// screen is shared afterwards.
func (c *Coordinator) ToggleScreenShare(ctx context.Context) (bool, Report, error) {
	if c.Sharing() {
		report, err := c.StopScreenShare(ctx)
		return false, report, err
	}
	report, err := c.StartScreenShare(ctx)
	return err == nil, report, err
}

// Muted reports whether outbound media of a kind is muted.
func (c *Coordinator) Muted(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted[kind]
}

// SetMuted stops or resumes sending a kind of media on every peer
// connection, and notifies the room with toggle-audio or toggle-video.
func (c *Coordinator) SetMuted(ctx context.Context, kind webrtc.RTPCodecType, muted bool) (Report, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.muted[kind] = muted
	track := c.trackLocked(kind)
	c.mu.Unlock()

	if !muted && track == nil {
		origin := Camera
		if kind == webrtc.RTPCodecTypeAudio {
			origin = Microphone
		}
		return Report{}, common.NewErr(
			common.ResourceUnavailable,
			"",
			"unmute "+origin.String(),
			errors.New("no local source"),
		)
	}

	report := c.fanOut(ctx, kind, track)

	t := signal.ToggleVideo
	if kind == webrtc.RTPCodecTypeAudio {
		t = signal.ToggleAudio
	}
	enabled := !muted
	if err := c.notifier.Notify(t, &enabled); err != nil {
		c.logger.WithError(err).Warn("Notifying media toggle")
	}

	return report, nil
}

// Close stops watching the screen capture.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore != nil {
		close(c.restore)
		c.restore = nil
	}
	c.screen = nil
	c.video = nil
}
