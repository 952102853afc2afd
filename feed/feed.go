// Package feed tracks the media feeds of a group call and computes the
// active speaker.
package feed

import (
	"sync"

	"groupcall/media"
	"groupcall/types"
	"groupcall/types/wire"
)

// Number of volume samples retained per feed. The active-speaker pass
// averages over this window.
const speakingSampleCount = 8

// CallFeed is one user-media or screen-share feed, identified by its owning
// (user, device) pair.
type CallFeed struct {
	userID   types.UserID
	deviceID types.DeviceID
	purpose  wire.FeedPurpose
	local    bool
	stream   *media.Stream

	mu         sync.Mutex
	audioMuted bool
	videoMuted bool
	samples    []float64
	sampler    *volumeSampler
	disposed   bool
}

// Opts configures a new CallFeed.
type Opts struct {
	UserID     types.UserID
	DeviceID   types.DeviceID
	Purpose    wire.FeedPurpose
	Stream     *media.Stream
	Local      bool
	AudioMuted bool
	VideoMuted bool
}

// New creates a CallFeed.
func New(opts Opts) *CallFeed {
	return &CallFeed{
		userID:     opts.UserID,
		deviceID:   opts.DeviceID,
		purpose:    opts.Purpose,
		local:      opts.Local,
		stream:     opts.Stream,
		audioMuted: opts.AudioMuted,
		videoMuted: opts.VideoMuted,
	}
}

// UserID returns the owning user.
func (f *CallFeed) UserID() types.UserID { return f.userID }

// DeviceID returns the owning device.
func (f *CallFeed) DeviceID() types.DeviceID { return f.deviceID }

// Purpose returns what the feed carries.
func (f *CallFeed) Purpose() wire.FeedPurpose { return f.purpose }

// Local reports whether this is the local device's feed.
func (f *CallFeed) Local() bool { return f.local }

// Stream returns the feed's media stream.
func (f *CallFeed) Stream() *media.Stream { return f.stream }

// Clone returns a feed sharing this feed's stream with the mute bits copied.
// Clones are what get handed to individual calls.
func (f *CallFeed) Clone() *CallFeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &CallFeed{
		userID:     f.userID,
		deviceID:   f.deviceID,
		purpose:    f.purpose,
		local:      f.local,
		stream:     f.stream,
		audioMuted: f.audioMuted,
		videoMuted: f.videoMuted,
	}
}

// AudioMuted reports the feed's audio mute bit.
func (f *CallFeed) AudioMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioMuted
}

// VideoMuted reports the feed's video mute bit.
func (f *CallFeed) VideoMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoMuted
}

// SetAudioMuted sets the audio mute bit and toggles the audio tracks.
func (f *CallFeed) SetAudioMuted(muted bool) {
	f.mu.Lock()
	f.audioMuted = muted
	f.mu.Unlock()
	if f.stream != nil {
		f.stream.SetAudioEnabled(!muted)
	}
}

// SetVideoMuted sets the video mute bit and toggles the video tracks.
func (f *CallFeed) SetVideoMuted(muted bool) {
	f.mu.Lock()
	f.videoMuted = muted
	f.mu.Unlock()
	if f.stream != nil {
		f.stream.SetVideoEnabled(!muted)
	}
}

// AppendVolumeSample records one audio level sample in -dBov.
func (f *CallFeed) AppendVolumeSample(level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, level)
	if len(f.samples) > speakingSampleCount {
		f.samples = f.samples[len(f.samples)-speakingSampleCount:]
	}
}

// AverageVolume returns the arithmetic mean of the retained samples, clamped
// below at threshold. A feed with no samples yet reports exactly threshold,
// which keeps it ineligible for active-speaker selection.
func (f *CallFeed) AverageVolume(threshold float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return threshold
	}
	var sum float64
	for _, s := range f.samples {
		sum += s
	}
	avg := sum / float64(len(f.samples))
	if avg < threshold {
		return threshold
	}
	return avg
}

// Disposed reports whether the feed has been disposed.
func (f *CallFeed) Disposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

// Dispose stops volume sampling and marks the feed unusable. Idempotent.
func (f *CallFeed) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	sampler := f.sampler
	f.sampler = nil
	f.mu.Unlock()
	if sampler != nil {
		sampler.stop()
	}
}
