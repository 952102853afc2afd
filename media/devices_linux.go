//go:build linux

package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceHandler captures from real devices via pion/mediadevices (V4L2 +
// malgo on Linux).
type DeviceHandler struct {
	selector *mediadevices.CodecSelector

	// MaxVideoWidth and MaxVideoHeight cap the capture resolution.
	// Zero means the package defaults.
	MaxVideoWidth  int
	MaxVideoHeight int

	mu      sync.Mutex
	streams []*Stream
}

// Default capture caps. Higher resolutions increase VP8 encoding latency.
const (
	DefaultMaxVideoWidth  = 640
	DefaultMaxVideoHeight = 480
	defaultVP8BitRate     = 1_500_000
)

// NewDeviceHandler creates a capture handler with VP8+Opus codecs.
func NewDeviceHandler() (*DeviceHandler, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create vp8 params: %w", err)
	}
	vpxParams.BitRate = defaultVP8BitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceHandler{
		selector:       selector,
		MaxVideoWidth:  DefaultMaxVideoWidth,
		MaxVideoHeight: DefaultMaxVideoHeight,
	}, nil
}

// NewAPI assembles a webrtc API whose media engine carries the handler's
// codecs and the default interceptors. The single-call layer builds its peer
// connections from this so captured tracks negotiate correctly.
func (h *DeviceHandler) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	h.selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// GetUserMediaStream captures microphone and, when video is set, camera.
func (h *DeviceHandler) GetUserMediaStream(_ context.Context, audio, video bool) (*Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: h.selector}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only: some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: h.MaxVideoWidth}
			c.Height = prop.IntRanged{Max: h.MaxVideoHeight}
		}
	}

	captured, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	return h.wrap(captured), nil
}

// GetScreensharingStream captures a screen or window.
func (h *DeviceHandler) GetScreensharingStream(_ context.Context, _ ScreenshareOpts) (*Stream, error) {
	captured, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: h.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}
	return h.wrap(captured), nil
}

// HasAudioDevice reports whether an audio input device exists.
func (h *DeviceHandler) HasAudioDevice() bool {
	return h.hasDevice(mediadevices.AudioInput)
}

// HasVideoDevice reports whether a video input device exists.
func (h *DeviceHandler) HasVideoDevice() bool {
	return h.hasDevice(mediadevices.VideoInput)
}

func (h *DeviceHandler) hasDevice(kind mediadevices.MediaDeviceType) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// StopUserMediaStream closes the stream's tracks and forgets the stream.
func (h *DeviceHandler) StopUserMediaStream(stream *Stream) {
	h.stop(stream)
}

// StopScreensharingStream closes the stream's tracks and forgets the stream.
func (h *DeviceHandler) StopScreensharingStream(stream *Stream) {
	h.stop(stream)
}

// StopAllStreams closes every stream this handler produced.
func (h *DeviceHandler) StopAllStreams() {
	h.mu.Lock()
	streams := h.streams
	h.streams = nil
	h.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}

func (h *DeviceHandler) stop(stream *Stream) {
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

func (h *DeviceHandler) wrap(captured mediadevices.MediaStream) *Stream {
	stream := NewStream(shortuuid.New())
	for _, t := range captured.GetTracks() {
		dt := &deviceTrack{track: t, enabled: true}
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Str("module", "media").Err(err).Str("track", dt.ID()).Msg("capture track ended")
			}
			dt.fireEnded()
		})
		stream.AddTrack(dt)
	}
	h.mu.Lock()
	h.streams = append(h.streams, stream)
	h.mu.Unlock()
	return stream
}

// deviceTrack adapts a mediadevices track to the Track interface. The
// enabled bit is bookkeeping for mute state; actual silencing happens at the
// sender.
type deviceTrack struct {
	track mediadevices.Track

	mu      sync.Mutex
	enabled bool
	onEnded []func()
	ended   bool
}

func (t *deviceTrack) ID() string                { return t.track.ID() }
func (t *deviceTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *deviceTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *deviceTrack) Close() error {
	err := t.track.Close()
	t.fireEnded()
	return err
}

func (t *deviceTrack) fireEnded() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
