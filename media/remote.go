package media

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack adapts a track received from a peer to the Track interface
// while keeping its RTP stream readable for level sampling.
type RemoteTrack struct {
	track *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
	onEnded []func()
	ended   bool
}

// NewRemoteTrack wraps a received track.
func NewRemoteTrack(track *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{track: track, enabled: true}
}

// ID returns the track id.
func (t *RemoteTrack) ID() string { return t.track.ID() }

// Kind returns the track kind.
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

// ReadRTP reads the next RTP packet from the track.
func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return t.track.ReadRTP()
}

// Enabled reports whether the track is enabled.
func (t *RemoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled enables or disables the track.
func (t *RemoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// OnEnded registers fn to run when the track ends.
func (t *RemoteTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// Close marks the track ended and fires the listeners once. The underlying
// receiver is owned by the peer connection.
func (t *RemoteTrack) Close() error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return nil
	}
	t.ended = true
	fns := t.onEnded
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}
