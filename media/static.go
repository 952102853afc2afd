package media

import (
	"context"
	"errors"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/webrtc/v4"
)

// ErrNoDevice is returned when capture is requested but no matching input
// device exists.
var ErrNoDevice = errors.New("no capture device")

// StaticTrack is a Track with no device behind it. It is used by the static
// handler and by tests.
type StaticTrack struct {
	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	onEnded []func()
	closed  bool
}

// NewStaticTrack creates an enabled track of the given kind.
func NewStaticTrack(kind webrtc.RTPCodecType) *StaticTrack {
	return &StaticTrack{
		id:      shortuuid.New(),
		kind:    kind,
		enabled: true,
	}
}

// ID returns the track id.
func (t *StaticTrack) ID() string { return t.id }

// Kind returns the track kind.
func (t *StaticTrack) Kind() webrtc.RTPCodecType { return t.kind }

// Enabled reports whether the track is enabled.
func (t *StaticTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled enables or disables the track.
func (t *StaticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// OnEnded registers fn to run when the track is closed.
func (t *StaticTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// Close ends the track and fires the ended listeners once.
func (t *StaticTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	fns := t.onEnded
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

// StaticHandler is a Handler producing synthetic streams. It backs the demo
// binary and tests, where no real capture hardware is wanted.
type StaticHandler struct {
	AudioDevice bool
	VideoDevice bool

	mu      sync.Mutex
	streams []*Stream
}

// NewStaticHandler creates a static handler advertising the given devices.
func NewStaticHandler(audio, video bool) *StaticHandler {
	return &StaticHandler{AudioDevice: audio, VideoDevice: video}
}

// GetUserMediaStream returns a synthetic stream with the requested tracks.
func (h *StaticHandler) GetUserMediaStream(_ context.Context, audio, video bool) (*Stream, error) {
	var tracks []Track
	if audio && h.AudioDevice {
		tracks = append(tracks, NewStaticTrack(webrtc.RTPCodecTypeAudio))
	}
	if video && h.VideoDevice {
		tracks = append(tracks, NewStaticTrack(webrtc.RTPCodecTypeVideo))
	}
	if len(tracks) == 0 {
		return nil, ErrNoDevice
	}
	stream := NewStream(shortuuid.New(), tracks...)
	h.mu.Lock()
	h.streams = append(h.streams, stream)
	h.mu.Unlock()
	return stream, nil
}

// GetScreensharingStream returns a synthetic video stream.
func (h *StaticHandler) GetScreensharingStream(_ context.Context, opts ScreenshareOpts) (*Stream, error) {
	tracks := []Track{NewStaticTrack(webrtc.RTPCodecTypeVideo)}
	if opts.Audio {
		tracks = append(tracks, NewStaticTrack(webrtc.RTPCodecTypeAudio))
	}
	stream := NewStream(shortuuid.New(), tracks...)
	h.mu.Lock()
	h.streams = append(h.streams, stream)
	h.mu.Unlock()
	return stream, nil
}

// HasAudioDevice reports whether an audio input exists.
func (h *StaticHandler) HasAudioDevice() bool { return h.AudioDevice }

// HasVideoDevice reports whether a video input exists.
func (h *StaticHandler) HasVideoDevice() bool { return h.VideoDevice }

// StopUserMediaStream closes the stream and forgets it.
func (h *StaticHandler) StopUserMediaStream(stream *Stream) {
	h.stop(stream)
}

// StopScreensharingStream closes the stream and forgets it.
func (h *StaticHandler) StopScreensharingStream(stream *Stream) {
	h.stop(stream)
}

// StopAllStreams closes every stream this handler produced.
func (h *StaticHandler) StopAllStreams() {
	h.mu.Lock()
	streams := h.streams
	h.streams = nil
	h.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}

func (h *StaticHandler) stop(stream *Stream) {
	if stream == nil {
		return
	}
	stream.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.streams {
		if s == stream {
			h.streams = append(h.streams[:i], h.streams[i+1:]...)
			return
		}
	}
}
