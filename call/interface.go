// Package call fixes the surface the coordinator consumes from the
// single-call signalling layer, and provides an in-process loopback
// implementation used by tests and the demo binary.
package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"groupcall/feed"
	"groupcall/types"
)

// State is the lifecycle state of a single call.
type State string

// Call states observed by the coordinator.
const (
	StateFledgling  State = "fledgling"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// HangupReason is the reason a call was torn down.
type HangupReason string

// Hangup reasons.
const (
	HangupUserHangup       HangupReason = "user_hangup"
	HangupReplaced         HangupReason = "replaced"
	HangupNewSession       HangupReason = "new_session"
	HangupSignallingFailed HangupReason = "signalling_timeout"
)

// ErrUnknownDevice is returned by placement when the target device is not
// reachable. The coordinator surfaces it verbatim.
var ErrUnknownDevice = errors.New("unknown device")

// Call is one peer-to-peer session, owned by the single-call layer. The
// coordinator drives it through this interface only.
type Call interface {
	ID() string
	RoomID() types.RoomID
	GroupCallID() types.GroupCallID
	State() State
	Invitee() types.UserID
	HangupReason() HangupReason
	OpponentUserID() types.UserID
	OpponentDeviceID() types.DeviceID
	OpponentSessionID() types.SessionID

	RemoteUsermediaFeed() *feed.CallFeed
	RemoteScreensharingFeed() *feed.CallFeed
	LocalUsermediaFeed() *feed.CallFeed
	LocalScreensharingFeed() *feed.CallFeed

	IsMicrophoneMuted() bool
	IsLocalVideoMuted() bool

	PlaceWithFeeds(ctx context.Context, feeds []*feed.CallFeed, remoteScreensharing bool) error
	AnswerWithFeeds(ctx context.Context, feeds []*feed.CallFeed) error
	Reject() error
	Hangup(reason HangupReason, suppressEvent bool) error

	SetMicrophoneMuted(muted bool) error
	SetLocalVideoMuted(muted bool) error
	SendMetadataUpdate(ctx context.Context) error
	PushLocalFeed(f *feed.CallFeed) error
	RemoveLocalFeed(f *feed.CallFeed) error
	CreateDataChannel(label string, opts *webrtc.DataChannelInit) (*webrtc.DataChannel, error)

	OnFeedsChanged(fn func()) (unsubscribe func())
	OnStateChanged(fn func(newState, oldState State)) (unsubscribe func())
	OnHangup(fn func()) (unsubscribe func())
	OnReplaced(fn func(replacement Call)) (unsubscribe func())
}

// CreateOpts addresses a new outbound call.
type CreateOpts struct {
	Invitee           types.UserID
	OpponentDeviceID  types.DeviceID
	OpponentSessionID types.SessionID
	GroupCallID       types.GroupCallID
}

// Factory constructs a new outbound call, or returns nil when no call can
// be constructed for the target.
type Factory func(roomID types.RoomID, opts CreateOpts) Call
