// Package media contains local capture and the stream/track abstractions the
// coordinator hands to the single-call layer.
package media

import "context"

// ScreenshareOpts configures screen capture.
type ScreenshareOpts struct {
	// DesktopCapturerSourceID selects the window or screen to capture.
	// Empty means the default screen.
	DesktopCapturerSourceID string
	Audio                   bool
}

// Handler acquires and releases local capture streams.
//
//go:generate mockgen -destination=mock_handler.go -package=media . Handler
type Handler interface {
	GetUserMediaStream(ctx context.Context, audio, video bool) (*Stream, error)
	GetScreensharingStream(ctx context.Context, opts ScreenshareOpts) (*Stream, error)
	HasAudioDevice() bool
	HasVideoDevice() bool
	StopUserMediaStream(stream *Stream)
	StopScreensharingStream(stream *Stream)
	StopAllStreams()
}
