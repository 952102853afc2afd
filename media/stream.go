package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Track is one audio or video track of a Stream. Implementations wrap
// captured device tracks or tracks received from a peer.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	OnEnded(fn func())
	Close() error
}

// Stream groups tracks the way the signalling protocol expects: one stream
// per purpose, carrying up to one audio and one video track.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream creates a stream with the given id and tracks.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{
		id:     id,
		tracks: tracks,
	}
}

// ID returns the stream id.
func (s *Stream) ID() string {
	return s.id
}

// AddTrack appends a track to the stream.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Tracks returns a snapshot of the stream's tracks.
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AudioTracks returns the stream's audio tracks.
func (s *Stream) AudioTracks() []Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

// VideoTracks returns the stream's video tracks.
func (s *Stream) VideoTracks() []Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

func (s *Stream) tracksOfKind(kind webrtc.RTPCodecType) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasAudio reports whether the stream carries an audio track.
func (s *Stream) HasAudio() bool {
	return len(s.AudioTracks()) > 0
}

// HasVideo reports whether the stream carries a video track.
func (s *Stream) HasVideo() bool {
	return len(s.VideoTracks()) > 0
}

// SetAudioEnabled enables or disables every audio track.
func (s *Stream) SetAudioEnabled(enabled bool) {
	for _, t := range s.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

// SetVideoEnabled enables or disables every video track.
func (s *Stream) SetVideoEnabled(enabled bool) {
	for _, t := range s.VideoTracks() {
		t.SetEnabled(enabled)
	}
}

// Close closes every track of the stream.
func (s *Stream) Close() {
	for _, t := range s.Tracks() {
		_ = t.Close()
	}
}
