package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/webrtc/v4"

	"groupcall/feed"
	"groupcall/types"
)

// LocalNetwork is an in-process single-call layer: every placed call is
// delivered directly to the target endpoint in the same process. It backs
// the demo binary and end-to-end tests.
type LocalNetwork struct {
	mu        sync.Mutex
	endpoints map[endpointKey]*Endpoint
}

type endpointKey struct {
	user   types.UserID
	device types.DeviceID
}

// NewLocalNetwork creates an empty network.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		endpoints: make(map[endpointKey]*Endpoint),
	}
}

// Endpoint registers (or replaces) the endpoint for a (user, device) pair.
func (n *LocalNetwork) Endpoint(user types.UserID, device types.DeviceID, session types.SessionID) *Endpoint {
	e := &Endpoint{net: n, user: user, device: device, session: session}
	n.mu.Lock()
	n.endpoints[endpointKey{user, device}] = e
	n.mu.Unlock()
	return e
}

func (n *LocalNetwork) lookup(user types.UserID, device types.DeviceID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[endpointKey{user, device}]
}

// Endpoint is one device's attachment to the local network.
type Endpoint struct {
	net     *LocalNetwork
	user    types.UserID
	device  types.DeviceID
	session types.SessionID

	mu       sync.Mutex
	incoming func(Call)
	calls    []*localCall
}

// OnIncomingCall sets the handler invoked with the callee-side call object
// whenever a peer places a call to this endpoint.
func (e *Endpoint) OnIncomingCall(fn func(Call)) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

// ActiveCalls returns the inbound calls that have not ended yet, including
// ones that rang before any handler was attached.
func (e *Endpoint) ActiveCalls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.calls {
		if c.State() != StateEnded {
			out = append(out, c)
		}
	}
	return out
}

// Factory returns the outbound-call factory for this endpoint.
func (e *Endpoint) Factory(roomID types.RoomID) Factory {
	return func(callRoomID types.RoomID, opts CreateOpts) Call {
		return &localCall{
			id:          shortuuid.New(),
			roomID:      callRoomID,
			groupCallID: opts.GroupCallID,
			endpoint:    e,
			invitee:     opts.Invitee,
			opUser:      opts.Invitee,
			opDevice:    opts.OpponentDeviceID,
			opSession:   opts.OpponentSessionID,
			state:       StateFledgling,
			handlers:    newHandlerSet(),
		}
	}
}

// localCall is one side of an in-process call.
type localCall struct {
	id          string
	roomID      types.RoomID
	groupCallID types.GroupCallID
	endpoint    *Endpoint
	invitee     types.UserID

	opUser    types.UserID
	opDevice  types.DeviceID
	opSession types.SessionID

	mu           sync.Mutex
	state        State
	hangupReason HangupReason
	localFeeds   []*feed.CallFeed
	remoteFeeds  []*feed.CallFeed
	peer         *localCall
	metadataSent int

	handlers *handlerSet
}

func (c *localCall) ID() string                         { return c.id }
func (c *localCall) RoomID() types.RoomID               { return c.roomID }
func (c *localCall) GroupCallID() types.GroupCallID     { return c.groupCallID }
func (c *localCall) Invitee() types.UserID              { return c.invitee }
func (c *localCall) OpponentUserID() types.UserID       { return c.opUser }
func (c *localCall) OpponentDeviceID() types.DeviceID   { return c.opDevice }
func (c *localCall) OpponentSessionID() types.SessionID { return c.opSession }

func (c *localCall) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *localCall) HangupReason() HangupReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangupReason
}

func (c *localCall) RemoteUsermediaFeed() *feed.CallFeed {
	return c.remoteFeed(false)
}

func (c *localCall) RemoteScreensharingFeed() *feed.CallFeed {
	return c.remoteFeed(true)
}

func (c *localCall) remoteFeed(screenshare bool) *feed.CallFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.remoteFeeds {
		if (f.Purpose() == "m.screenshare") == screenshare {
			return f
		}
	}
	return nil
}

func (c *localCall) LocalUsermediaFeed() *feed.CallFeed {
	return c.localFeed(false)
}

func (c *localCall) LocalScreensharingFeed() *feed.CallFeed {
	return c.localFeed(true)
}

func (c *localCall) localFeed(screenshare bool) *feed.CallFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.localFeeds {
		if (f.Purpose() == "m.screenshare") == screenshare {
			return f
		}
	}
	return nil
}

func (c *localCall) IsMicrophoneMuted() bool {
	if f := c.LocalUsermediaFeed(); f != nil {
		return f.AudioMuted()
	}
	return true
}

func (c *localCall) IsLocalVideoMuted() bool {
	if f := c.LocalUsermediaFeed(); f != nil {
		return f.VideoMuted()
	}
	return true
}

// PlaceWithFeeds delivers the callee-side call to the opponent endpoint.
func (c *localCall) PlaceWithFeeds(_ context.Context, feeds []*feed.CallFeed, _ bool) error {
	target := c.endpoint.net.lookup(c.opUser, c.opDevice)
	if target == nil || target.session != c.opSession {
		return fmt.Errorf("%s/%s: %w", c.opUser, c.opDevice, ErrUnknownDevice)
	}

	callee := &localCall{
		id:          c.id,
		roomID:      c.roomID,
		groupCallID: c.groupCallID,
		endpoint:    target,
		invitee:     c.opUser,
		opUser:      c.endpoint.user,
		opDevice:    c.endpoint.device,
		opSession:   c.endpoint.session,
		state:       StateRinging,
		handlers:    newHandlerSet(),
	}

	c.mu.Lock()
	c.localFeeds = feeds
	c.peer = callee
	c.mu.Unlock()
	callee.mu.Lock()
	callee.peer = c
	for _, f := range feeds {
		callee.remoteFeeds = append(callee.remoteFeeds, f.Clone())
	}
	callee.mu.Unlock()

	c.setState(StateConnecting)

	target.mu.Lock()
	incoming := target.incoming
	target.calls = append(target.calls, callee)
	target.mu.Unlock()
	if incoming != nil {
		incoming(callee)
	}
	return nil
}

// AnswerWithFeeds connects both sides.
func (c *localCall) AnswerWithFeeds(_ context.Context, feeds []*feed.CallFeed) error {
	c.mu.Lock()
	c.localFeeds = feeds
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		for _, f := range feeds {
			peer.remoteFeeds = append(peer.remoteFeeds, f.Clone())
		}
		peer.mu.Unlock()
	}

	c.setState(StateConnected)
	if peer != nil {
		peer.setState(StateConnected)
		peer.handlers.fireFeedsChanged()
	}
	c.handlers.fireFeedsChanged()
	return nil
}

// Reject declines a ringing call.
func (c *localCall) Reject() error {
	return c.Hangup(HangupUserHangup, true)
}

// Hangup ends the call on both sides. Idempotent.
func (c *localCall) Hangup(reason HangupReason, suppressEvent bool) error {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return nil
	}
	c.hangupReason = reason
	peer := c.peer
	c.mu.Unlock()

	c.setState(StateEnded)
	if !suppressEvent {
		c.handlers.fireHangup()
	}

	if peer != nil {
		peer.mu.Lock()
		ended := peer.state == StateEnded
		if !ended {
			peer.hangupReason = reason
		}
		peer.mu.Unlock()
		if !ended {
			peer.setState(StateEnded)
			peer.handlers.fireHangup()
		}
	}
	return nil
}

func (c *localCall) SetMicrophoneMuted(muted bool) error {
	if f := c.LocalUsermediaFeed(); f != nil {
		f.SetAudioMuted(muted)
	}
	return nil
}

func (c *localCall) SetLocalVideoMuted(muted bool) error {
	if f := c.LocalUsermediaFeed(); f != nil {
		f.SetVideoMuted(muted)
	}
	return nil
}

func (c *localCall) SendMetadataUpdate(_ context.Context) error {
	c.mu.Lock()
	c.metadataSent++
	c.mu.Unlock()
	return nil
}

// PushLocalFeed adds a feed mid-call; the peer observes it as a new remote
// feed.
func (c *localCall) PushLocalFeed(f *feed.CallFeed) error {
	c.mu.Lock()
	c.localFeeds = append(c.localFeeds, f)
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.remoteFeeds = append(peer.remoteFeeds, f.Clone())
		peer.mu.Unlock()
		peer.handlers.fireFeedsChanged()
	}
	return nil
}

// RemoveLocalFeed removes a feed mid-call on both sides.
func (c *localCall) RemoveLocalFeed(f *feed.CallFeed) error {
	c.mu.Lock()
	for i, lf := range c.localFeeds {
		if lf.Purpose() == f.Purpose() {
			c.localFeeds = append(c.localFeeds[:i], c.localFeeds[i+1:]...)
			break
		}
	}
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		for i, rf := range peer.remoteFeeds {
			if rf.Purpose() == f.Purpose() {
				peer.remoteFeeds = append(peer.remoteFeeds[:i], peer.remoteFeeds[i+1:]...)
				break
			}
		}
		peer.mu.Unlock()
		peer.handlers.fireFeedsChanged()
	}
	return nil
}

// CreateDataChannel is not supported on the loopback transport.
func (c *localCall) CreateDataChannel(_ string, _ *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	return nil, nil
}

func (c *localCall) OnFeedsChanged(fn func()) func() {
	return c.handlers.onFeedsChanged(fn)
}

func (c *localCall) OnStateChanged(fn func(newState, oldState State)) func() {
	return c.handlers.onStateChanged(fn)
}

func (c *localCall) OnHangup(fn func()) func() {
	return c.handlers.onHangup(fn)
}

func (c *localCall) OnReplaced(fn func(Call)) func() {
	return c.handlers.onReplaced(fn)
}

func (c *localCall) setState(s State) {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.handlers.fireStateChanged(s, old)
}
