package groupcall

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"groupcall/call"
	"groupcall/feed"
	"groupcall/types"
)

// opLog records the order of operations across fake calls, for asserting
// metadata/mute ordering.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ops))
	copy(out, l.ops)
	return out
}

// fakeCall is a controllable call.Call for reconciler tests.
type fakeCall struct {
	id          string
	roomID      types.RoomID
	groupCallID types.GroupCallID
	invitee     types.UserID
	opUser      types.UserID
	opDevice    types.DeviceID
	opSession   types.SessionID

	mu           sync.Mutex
	state        call.State
	hangupReason call.HangupReason

	placeErr          error
	placed            bool
	placedFeeds       []*feed.CallFeed
	remoteScreenshare bool
	answered          bool
	rejected          bool
	hungUp            bool

	micMuted bool
	vidMuted bool
	pushed   []*feed.CallFeed
	removed  []*feed.CallFeed
	metadata int

	remoteUM *feed.CallFeed
	remoteSS *feed.CallFeed

	log *opLog

	nextHandlerID int
	feedsChanged  map[int]func()
	stateChanged  map[int]func(call.State, call.State)
	hangupFns     map[int]func()
	replacedFns   map[int]func(call.Call)
}

func newFakeCall(roomID types.RoomID, groupCallID types.GroupCallID, user types.UserID, device types.DeviceID, session types.SessionID) *fakeCall {
	return &fakeCall{
		id:           "call-" + string(user) + "-" + string(device) + "-" + string(session),
		roomID:       roomID,
		groupCallID:  groupCallID,
		invitee:      user,
		opUser:       user,
		opDevice:     device,
		opSession:    session,
		state:        call.StateFledgling,
		feedsChanged: make(map[int]func()),
		stateChanged: make(map[int]func(call.State, call.State)),
		hangupFns:    make(map[int]func()),
		replacedFns:  make(map[int]func(call.Call)),
	}
}

func (c *fakeCall) ID() string                         { return c.id }
func (c *fakeCall) RoomID() types.RoomID               { return c.roomID }
func (c *fakeCall) GroupCallID() types.GroupCallID     { return c.groupCallID }
func (c *fakeCall) Invitee() types.UserID              { return c.invitee }
func (c *fakeCall) OpponentUserID() types.UserID       { return c.opUser }
func (c *fakeCall) OpponentDeviceID() types.DeviceID   { return c.opDevice }
func (c *fakeCall) OpponentSessionID() types.SessionID { return c.opSession }

func (c *fakeCall) State() call.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCall) HangupReason() call.HangupReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangupReason
}

func (c *fakeCall) RemoteUsermediaFeed() *feed.CallFeed     { return c.remoteUM }
func (c *fakeCall) RemoteScreensharingFeed() *feed.CallFeed { return c.remoteSS }

func (c *fakeCall) LocalUsermediaFeed() *feed.CallFeed {
	for _, f := range c.placedFeeds {
		if f.Purpose() == "m.usermedia" {
			return f
		}
	}
	return nil
}

func (c *fakeCall) LocalScreensharingFeed() *feed.CallFeed {
	for _, f := range c.placedFeeds {
		if f.Purpose() == "m.screenshare" {
			return f
		}
	}
	return nil
}

func (c *fakeCall) IsMicrophoneMuted() bool { return c.micMuted }
func (c *fakeCall) IsLocalVideoMuted() bool { return c.vidMuted }

func (c *fakeCall) PlaceWithFeeds(_ context.Context, feeds []*feed.CallFeed, remoteScreenshare bool) error {
	c.log.add("place:" + string(c.opUser))
	if c.placeErr != nil {
		return c.placeErr
	}
	c.placed = true
	c.placedFeeds = feeds
	c.remoteScreenshare = remoteScreenshare
	c.setState(call.StateConnecting)
	return nil
}

func (c *fakeCall) AnswerWithFeeds(_ context.Context, feeds []*feed.CallFeed) error {
	c.answered = true
	c.placedFeeds = feeds
	c.setState(call.StateConnected)
	return nil
}

func (c *fakeCall) Reject() error {
	c.rejected = true
	c.setState(call.StateEnded)
	return nil
}

func (c *fakeCall) Hangup(reason call.HangupReason, _ bool) error {
	c.mu.Lock()
	if c.state == call.StateEnded {
		c.mu.Unlock()
		return nil
	}
	c.hungUp = true
	c.hangupReason = reason
	c.mu.Unlock()
	c.setState(call.StateEnded)
	return nil
}

func (c *fakeCall) SetMicrophoneMuted(muted bool) error {
	c.log.add("mute:" + string(c.opUser))
	c.micMuted = muted
	return nil
}

func (c *fakeCall) SetLocalVideoMuted(muted bool) error {
	c.vidMuted = muted
	return nil
}

func (c *fakeCall) SendMetadataUpdate(_ context.Context) error {
	c.log.add("metadata:" + string(c.opUser))
	c.metadata++
	return nil
}

func (c *fakeCall) PushLocalFeed(f *feed.CallFeed) error {
	c.pushed = append(c.pushed, f)
	return nil
}

func (c *fakeCall) RemoveLocalFeed(f *feed.CallFeed) error {
	c.removed = append(c.removed, f)
	return nil
}

func (c *fakeCall) CreateDataChannel(_ string, _ *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	return nil, nil
}

func (c *fakeCall) OnFeedsChanged(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.feedsChanged[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.feedsChanged, id)
	}
}

func (c *fakeCall) OnStateChanged(fn func(call.State, call.State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.stateChanged[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateChanged, id)
	}
}

func (c *fakeCall) OnHangup(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.hangupFns[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.hangupFns, id)
	}
}

func (c *fakeCall) OnReplaced(fn func(call.Call)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.replacedFns[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.replacedFns, id)
	}
}

func (c *fakeCall) setState(s call.State) {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := make([]func(call.State, call.State), 0, len(c.stateChanged))
	for _, fn := range c.stateChanged {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s, old)
	}
}

func (c *fakeCall) fireHangup(reason call.HangupReason) {
	c.mu.Lock()
	c.hangupReason = reason
	c.state = call.StateEnded
	fns := make([]func(), 0, len(c.hangupFns))
	for _, fn := range c.hangupFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *fakeCall) fireReplaced(replacement call.Call) {
	c.mu.Lock()
	fns := make([]func(call.Call), 0, len(c.replacedFns))
	for _, fn := range c.replacedFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(replacement)
	}
}

func (c *fakeCall) fireFeedsChanged() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.feedsChanged))
	for _, fn := range c.feedsChanged {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fakeFactory hands out fakeCalls and records what was asked of it.
type fakeFactory struct {
	mu      sync.Mutex
	roomID  types.RoomID
	created []*fakeCall
	opts    []call.CreateOpts
	// placeErr is copied onto every constructed call.
	placeErr error
	// construct nil instead of a call when set.
	refuse bool
	log    *opLog
}

func (f *fakeFactory) factory() call.Factory {
	return func(roomID types.RoomID, opts call.CreateOpts) call.Call {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opts = append(f.opts, opts)
		if f.refuse {
			return nil
		}
		c := newFakeCall(roomID, opts.GroupCallID, opts.Invitee, opts.OpponentDeviceID, opts.OpponentSessionID)
		c.placeErr = f.placeErr
		c.log = f.log
		f.created = append(f.created, c)
		return c
	}
}

func (f *fakeFactory) createdCalls() []*fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeCall, len(f.created))
	copy(out, f.created)
	return out
}

// fakeIncoming is a manual IncomingSource.
type fakeIncoming struct {
	mu     sync.Mutex
	fn     func(call.Call)
	active []call.Call
}

func (s *fakeIncoming) OnIncomingCall(fn func(call.Call)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *fakeIncoming) ActiveCalls() []call.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeIncoming) deliver(c call.Call) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}
