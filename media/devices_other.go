//go:build !linux

package media

import (
	"context"
	"errors"
)

// ErrCaptureUnsupported is returned on platforms without capture drivers.
var ErrCaptureUnsupported = errors.New("device capture not supported on this platform")

// DeviceHandler is a stub on platforms without capture drivers.
type DeviceHandler struct{}

// NewDeviceHandler returns a handler whose capture calls fail.
func NewDeviceHandler() (*DeviceHandler, error) {
	return &DeviceHandler{}, nil
}

// GetUserMediaStream always fails.
func (h *DeviceHandler) GetUserMediaStream(_ context.Context, _, _ bool) (*Stream, error) {
	return nil, ErrCaptureUnsupported
}

// GetScreensharingStream always fails.
func (h *DeviceHandler) GetScreensharingStream(_ context.Context, _ ScreenshareOpts) (*Stream, error) {
	return nil, ErrCaptureUnsupported
}

// HasAudioDevice reports no device.
func (h *DeviceHandler) HasAudioDevice() bool { return false }

// HasVideoDevice reports no device.
func (h *DeviceHandler) HasVideoDevice() bool { return false }

// StopUserMediaStream is a no-op.
func (h *DeviceHandler) StopUserMediaStream(_ *Stream) {}

// StopScreensharingStream is a no-op.
func (h *DeviceHandler) StopScreensharingStream(_ *Stream) {}

// StopAllStreams is a no-op.
func (h *DeviceHandler) StopAllStreams() {}
