package conference

import (
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/mosaicnetworks/parley/src/peer"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Listener receives the events a Conference exposes to its user interface.
// Callbacks are invoked from the goroutines of the peers they concern, or from
// the signaling router, and should return quickly.
type Listener interface {
	OnRemoteTrack(peer string, kind webrtc.RTPCodecType, track peer.RemoteTrack)
	OnPeerConnected(peer string)
	OnPeerFailed(peer string, err error)
	OnPeerRemoved(peer string)

	// OnPeerStatus reports the presentation status announced by a peer:
	// toggle-audio and toggle-video with enabled set, screen-share-started and
	// screen-share-stopped with a nil enabled.
	OnPeerStatus(peer string, status signal.Type, enabled *bool)
}

// LogListener is a Listener that logs every event.
type LogListener struct {
	logger *logrus.Entry
}

// NewLogListener ...
func NewLogListener(logger *logrus.Entry) *LogListener {
	return &LogListener{logger: logger}
}

// OnRemoteTrack implements Listener.
func (l *LogListener) OnRemoteTrack(peer string, kind webrtc.RTPCodecType, track peer.RemoteTrack) {
	l.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"kind":   kind,
		"track":  track.ID(),
		"stream": track.StreamID(),
	}).Info("Receiving remote track")
}

// OnPeerConnected implements Listener.
func (l *LogListener) OnPeerConnected(peer string) {
	l.logger.WithField("peer", peer).Info("Peer connected")
}

// OnPeerFailed implements Listener.
func (l *LogListener) OnPeerFailed(peer string, err error) {
	l.logger.WithField("peer", peer).WithError(err).Warn("Peer failed")
}

// OnPeerRemoved implements Listener.
func (l *LogListener) OnPeerRemoved(peer string) {
	l.logger.WithField("peer", peer).Info("Peer removed")
}

// OnPeerStatus implements Listener.
func (l *LogListener) OnPeerStatus(peer string, status signal.Type, enabled *bool) {
	entry := l.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"status": status,
	})
	if enabled != nil {
		entry = entry.WithField("enabled", *enabled)
	}
	entry.Info("Peer status")
}
