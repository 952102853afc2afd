package feed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wangjia184/sortedset"

	"groupcall/broker"
	"groupcall/types"
)

var (
	// ErrFeedNotFound is returned when no feed matches the (user, device)
	// key of a remove or replace.
	ErrFeedNotFound = errors.New("feed not found")
)

// FeedsChangedEvent carries the full feed sequence after a mutation.
type FeedsChangedEvent struct {
	Feeds []*CallFeed
}

// ActiveSpeakerChangedEvent carries the newly selected active speaker, or
// nil when it was cleared.
type ActiveSpeakerChangedEvent struct {
	Feed *CallFeed
}

// Registry tracks the user-media and screen-share feeds of a group call and
// selects the active speaker.
type Registry struct {
	broker    *broker.Broker
	localUser types.UserID
	threshold float64

	mu          sync.RWMutex
	userMedia   []*CallFeed
	screenshare []*CallFeed
	active      *CallFeed
}

// NewRegistry creates a registry emitting on b. threshold is the speaking
// threshold in dB below which a feed is never selected.
func NewRegistry(b *broker.Broker, localUser types.UserID, threshold float64) *Registry {
	return &Registry{
		broker:    b,
		localUser: localUser,
		threshold: threshold,
	}
}

func feedKey(userID types.UserID, deviceID types.DeviceID) string {
	return string(userID) + "/" + string(deviceID)
}

// AddUserMediaFeed registers a user-media feed and enables volume sampling
// on its first remote audio track.
func (r *Registry) AddUserMediaFeed(f *CallFeed) {
	r.mu.Lock()
	r.userMedia = append(r.userMedia, f)
	r.mu.Unlock()

	r.enableSampling(f)
	r.broker.Publish(broker.UserMediaFeedsChanged, FeedsChangedEvent{Feeds: r.UserMediaFeeds()})
}

// ReplaceUserMediaFeed swaps the feed matching old's (user, device) key for
// replacement, disposing the old feed.
func (r *Registry) ReplaceUserMediaFeed(old, replacement *CallFeed) error {
	r.mu.Lock()
	idx := indexOf(r.userMedia, old.UserID(), old.DeviceID())
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", feedKey(old.UserID(), old.DeviceID()), ErrFeedNotFound)
	}
	previous := r.userMedia[idx]
	r.userMedia[idx] = replacement
	if r.active == previous {
		r.active = replacement
	}
	r.mu.Unlock()

	previous.Dispose()
	r.enableSampling(replacement)
	r.broker.Publish(broker.UserMediaFeedsChanged, FeedsChangedEvent{Feeds: r.UserMediaFeeds()})
	return nil
}

// RemoveUserMediaFeed deletes the feed matching f's (user, device) key and
// disposes it. If it was the active speaker, the first remaining user-media
// feed is promoted (or the speaker cleared).
func (r *Registry) RemoveUserMediaFeed(f *CallFeed) error {
	r.mu.Lock()
	idx := indexOf(r.userMedia, f.UserID(), f.DeviceID())
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", feedKey(f.UserID(), f.DeviceID()), ErrFeedNotFound)
	}
	removed := r.userMedia[idx]
	r.userMedia = append(r.userMedia[:idx], r.userMedia[idx+1:]...)

	speakerChanged := false
	if r.active == removed {
		if len(r.userMedia) > 0 {
			r.active = r.userMedia[0]
		} else {
			r.active = nil
		}
		speakerChanged = true
	}
	promoted := r.active
	r.mu.Unlock()

	removed.Dispose()
	r.broker.Publish(broker.UserMediaFeedsChanged, FeedsChangedEvent{Feeds: r.UserMediaFeeds()})
	if speakerChanged {
		r.broker.Publish(broker.ActiveSpeakerChanged, ActiveSpeakerChangedEvent{Feed: promoted})
	}
	return nil
}

// AddScreenshareFeed registers a screen-share feed.
func (r *Registry) AddScreenshareFeed(f *CallFeed) {
	r.mu.Lock()
	r.screenshare = append(r.screenshare, f)
	r.mu.Unlock()
	r.broker.Publish(broker.ScreenshareFeedsChanged, FeedsChangedEvent{Feeds: r.ScreenshareFeeds()})
}

// ReplaceScreenshareFeed swaps the feed matching old's key for replacement.
func (r *Registry) ReplaceScreenshareFeed(old, replacement *CallFeed) error {
	r.mu.Lock()
	idx := indexOf(r.screenshare, old.UserID(), old.DeviceID())
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", feedKey(old.UserID(), old.DeviceID()), ErrFeedNotFound)
	}
	previous := r.screenshare[idx]
	r.screenshare[idx] = replacement
	r.mu.Unlock()

	previous.Dispose()
	r.broker.Publish(broker.ScreenshareFeedsChanged, FeedsChangedEvent{Feeds: r.ScreenshareFeeds()})
	return nil
}

// RemoveScreenshareFeed deletes the feed matching f's key and disposes it.
func (r *Registry) RemoveScreenshareFeed(f *CallFeed) error {
	r.mu.Lock()
	idx := indexOf(r.screenshare, f.UserID(), f.DeviceID())
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", feedKey(f.UserID(), f.DeviceID()), ErrFeedNotFound)
	}
	removed := r.screenshare[idx]
	r.screenshare = append(r.screenshare[:idx], r.screenshare[idx+1:]...)
	r.mu.Unlock()

	removed.Dispose()
	r.broker.Publish(broker.ScreenshareFeedsChanged, FeedsChangedEvent{Feeds: r.ScreenshareFeeds()})
	return nil
}

// GetUserMediaFeed returns the user-media feed for (user, device), or nil.
func (r *Registry) GetUserMediaFeed(userID types.UserID, deviceID types.DeviceID) *CallFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := indexOf(r.userMedia, userID, deviceID); idx >= 0 {
		return r.userMedia[idx]
	}
	return nil
}

// GetScreenshareFeed returns the screen-share feed for (user, device), or nil.
func (r *Registry) GetScreenshareFeed(userID types.UserID, deviceID types.DeviceID) *CallFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := indexOf(r.screenshare, userID, deviceID); idx >= 0 {
		return r.screenshare[idx]
	}
	return nil
}

// UserMediaFeeds returns a snapshot of the user-media feed sequence.
func (r *Registry) UserMediaFeeds() []*CallFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CallFeed, len(r.userMedia))
	copy(out, r.userMedia)
	return out
}

// ScreenshareFeeds returns a snapshot of the screen-share feed sequence.
func (r *Registry) ScreenshareFeeds() []*CallFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CallFeed, len(r.screenshare))
	copy(out, r.screenshare)
	return out
}

// ActiveSpeaker returns the current active speaker feed, or nil.
func (r *Registry) ActiveSpeaker() *CallFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// PickActiveSpeaker runs one selection pass: rank the candidate feeds by
// mean volume and promote the loudest if it strictly exceeds the speaking
// threshold. Called on the active-speaker tick.
func (r *Registry) PickActiveSpeaker() {
	r.mu.Lock()

	ranking := sortedset.New()
	for _, f := range r.userMedia {
		// The local feed only competes when it is the only feed.
		if f.Local() && len(r.userMedia) > 1 {
			continue
		}
		mean := f.AverageVolume(r.threshold)
		ranking.AddOrUpdate(feedKey(f.UserID(), f.DeviceID()), sortedset.SCORE(mean*1000), f)
	}

	top := ranking.PeekMax()
	if top == nil {
		r.mu.Unlock()
		return
	}
	loudest := top.Value.(*CallFeed)
	if loudest == r.active || loudest.AverageVolume(r.threshold) <= r.threshold {
		r.mu.Unlock()
		return
	}
	r.active = loudest
	r.mu.Unlock()

	r.broker.Publish(broker.ActiveSpeakerChanged, ActiveSpeakerChangedEvent{Feed: loudest})
}

// Dispose disposes every feed and clears the registry.
func (r *Registry) Dispose() {
	r.mu.Lock()
	feeds := append(append([]*CallFeed{}, r.userMedia...), r.screenshare...)
	r.userMedia = nil
	r.screenshare = nil
	r.active = nil
	r.mu.Unlock()
	for _, f := range feeds {
		f.Dispose()
	}
}

func (r *Registry) enableSampling(f *CallFeed) {
	if f.Stream() == nil {
		return
	}
	for _, t := range f.Stream().AudioTracks() {
		if reader, ok := t.(RTPReader); ok {
			f.StartVolumeSampling(reader, DefaultAudioLevelExtensionID)
			return
		}
	}
}

func indexOf(feeds []*CallFeed, userID types.UserID, deviceID types.DeviceID) int {
	for i, f := range feeds {
		if f.UserID() == userID && f.DeviceID() == deviceID {
			return i
		}
	}
	return -1
}
