// Package media manages the local media of a participant and the outbound
// tracks carried by its peer connections.
//
// LocalMedia acquires the microphone, camera and screen sources through a
// Capturer. The Coordinator decides which of those sources every peer
// connection sends, and swaps them live, without renegotiation when the
// connection already has a sender of the right kind.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Origin is the device a local source captures.
type Origin int

const (
	// Microphone ...
	Microphone Origin = iota
	// Camera ...
	Camera
	// Screen ...
	Screen
)

// String ...
func (o Origin) String() string {
	switch o {
	case Microphone:
		return "microphone"
	case Camera:
		return "camera"
	case Screen:
		return "screen"
	default:
		return "unknown"
	}
}

// Kind returns the media kind produced by the origin.
func (o Origin) Kind() webrtc.RTPCodecType {
	if o == Microphone {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Source is a live local media source.
type Source interface {
	Track() webrtc.TrackLocal
	Origin() Origin

	// Ended is closed when the source stops producing media, either because
	// Stop was called or because the capture was terminated externally.
	Ended() <-chan struct{}

	// Stop releases the capture device. It must be idempotent.
	Stop()
}

// Capturer acquires local sources. Device selection and constraints are the
// capturer's concern.
type Capturer interface {
	Capture(ctx context.Context, origin Origin) (Source, error)
}
