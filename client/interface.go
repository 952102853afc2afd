// Package client fixes the surface the coordinator consumes from the outer
// messaging client, and provides an in-memory implementation used by tests
// and the demo binary.
package client

import (
	"context"

	"groupcall/database"
	"groupcall/types"
)

// Membership is a user's membership state in a room.
type Membership string

// Membership states.
const (
	MembershipJoin   Membership = "join"
	MembershipInvite Membership = "invite"
	MembershipLeave  Membership = "leave"
)

// Member is a room member.
type Member struct {
	UserID     types.UserID
	Membership Membership
}

// Room is the coordinator's view of one room.
type Room interface {
	ID() types.RoomID
	StateEvents(eventType string) []*database.StateEvent
	StateEvent(eventType, stateKey string) *database.StateEvent
	Member(userID types.UserID) *Member
	OnUpdate(fn func()) (unsubscribe func())
}

// SendStateOpts carries per-request options for state event writes.
type SendStateOpts struct {
	// KeepAlive marks the request as one that must survive process
	// teardown (the leaving device's removal write).
	KeepAlive bool
}

// Client is the outer messaging client.
type Client interface {
	UserID() types.UserID
	DeviceID() types.DeviceID
	SessionID() types.SessionID
	SendStateEvent(ctx context.Context, roomID types.RoomID, eventType string, content any, stateKey string, opts SendStateOpts) error
	Devices(ctx context.Context) ([]types.DeviceID, error)
}
