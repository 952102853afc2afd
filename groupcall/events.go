package groupcall

import (
	"groupcall/call"
	"groupcall/feed"
	"groupcall/types"
)

// StateChangedEvent is published on real lifecycle transitions.
type StateChangedEvent struct {
	New State
	Old State
}

// ParticipantsChangedEvent carries the committed participant view.
type ParticipantsChangedEvent struct {
	Participants map[types.UserID]map[types.DeviceID]ParticipantState
}

// CallsChangedEvent carries the call graph after a committed
// reconciliation pass.
type CallsChangedEvent struct {
	Calls map[types.UserID]map[types.DeviceID]call.Call
}

// LocalMuteStateChangedEvent is published after the local mute bits change.
type LocalMuteStateChangedEvent struct {
	AudioMuted bool
	VideoMuted bool
}

// LocalScreenshareStateChangedEvent is published when screen sharing is
// enabled or disabled.
type LocalScreenshareStateChangedEvent struct {
	Enabled  bool
	Feed     *feed.CallFeed
	SourceID string
}
