// Package groupcall implements the multi-party call coordinator: it turns
// the room's eventually-consistent membership view into a full mesh of
// per-device calls, keeps the local device advertised, and drives local
// capture.
//
// All coordinator state is guarded by a single in-flight mutex. Per-call and
// timer callbacks are queued and run by the current lock holder before it
// releases, so no two coordinator passes ever interleave. Domain events are
// delivered synchronously; observers must not call back into the coordinator
// from an event callback.
package groupcall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"groupcall/broker"
	"groupcall/call"
	"groupcall/client"
	"groupcall/feed"
	"groupcall/media"
	"groupcall/metric"
	"groupcall/types"
	"groupcall/types/wire"
)

// State is the lifecycle state of a GroupCall.
type State int

// Lifecycle states.
const (
	StateLocalCallFeedUninitialized State = iota
	StateInitializingLocalCallFeed
	StateLocalCallFeedInitialized
	StateEntered
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLocalCallFeedUninitialized:
		return "local_call_feed_uninitialized"
	case StateInitializingLocalCallFeed:
		return "initializing_local_call_feed"
	case StateLocalCallFeedInitialized:
		return "local_call_feed_initialized"
	case StateEntered:
		return "entered"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IncomingSource delivers inbound calls from the single-call layer.
type IncomingSource interface {
	OnIncomingCall(fn func(call.Call))
	ActiveCalls() []call.Call
}

// Opts configures a new GroupCall.
type Opts struct {
	Client   client.Client
	Room     client.Room
	Factory  call.Factory
	Incoming IncomingSource
	Media    media.Handler
	Broker   *broker.Broker
	Metrics  *metric.Metrics

	ID                  types.GroupCallID
	Type                wire.CallType
	Intent              wire.CallIntent
	PTT                 bool
	DataChannelsEnabled bool
	DataChannelOptions  *wire.DataChannelOptions

	InitWithAudioMuted bool
	InitWithVideoMuted bool

	Config Config
}

// GroupCall coordinates one group call in one room.
type GroupCall struct {
	cfg      Config
	client   client.Client
	room     client.Room
	factory  call.Factory
	incoming IncomingSource
	media    media.Handler
	broker   *broker.Broker
	metrics  *metric.Metrics
	log      zerolog.Logger

	id                  types.GroupCallID
	callType            wire.CallType
	intent              wire.CallIntent
	isPTT               bool
	dataChannelsEnabled bool
	dcOpts              *wire.DataChannelOptions
	creationTS          time.Time

	mu sync.Mutex

	// Callback queue: per-call and timer callbacks queue here and are run
	// by whoever holds the mutex, preserving the cooperative model.
	taskMu sync.Mutex
	tasks  []func()
	held   bool

	state                    State
	enteredViaAnotherSession bool

	feeds               *feed.Registry
	localFeed           *feed.CallFeed
	screenshareFeed     *feed.CallFeed
	screenshareSourceID string
	initWithAudioMuted  bool
	initWithVideoMuted  bool

	participants map[types.UserID]map[types.DeviceID]ParticipantState
	calls        map[types.UserID]map[types.DeviceID]call.Call
	handlers     map[types.UserID]map[types.DeviceID]*callHandlers
	retries      map[types.UserID]map[types.DeviceID]*retryEntry

	roomUnsub   func()
	retryStop   chan struct{}
	speakerStop chan struct{}
	refreshStop chan struct{}
	expireTimer *time.Timer
	pttTimer    *time.Timer
}

// New creates a GroupCall in the uninitialized state and hooks it to the
// room's state updates.
func New(opts Opts) (*GroupCall, error) {
	if opts.Client == nil || opts.Room == nil || opts.Factory == nil || opts.Media == nil {
		return nil, fmt.Errorf("client, room, factory and media are required")
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("group call id is required")
	}
	b := opts.Broker
	if b == nil {
		b = broker.New()
	}
	cfg := opts.Config.withDefaults()

	g := &GroupCall{
		cfg:                 cfg,
		client:              opts.Client,
		room:                opts.Room,
		factory:             opts.Factory,
		incoming:            opts.Incoming,
		media:               opts.Media,
		broker:              b,
		metrics:             opts.Metrics,
		id:                  opts.ID,
		callType:            opts.Type,
		intent:              opts.Intent,
		isPTT:               opts.PTT,
		dataChannelsEnabled: opts.DataChannelsEnabled,
		dcOpts:              opts.DataChannelOptions,
		creationTS:          time.Now(),
		initWithAudioMuted:  opts.InitWithAudioMuted,
		initWithVideoMuted:  opts.InitWithVideoMuted,
		state:               StateLocalCallFeedUninitialized,
		participants:        make(map[types.UserID]map[types.DeviceID]ParticipantState),
		calls:               make(map[types.UserID]map[types.DeviceID]call.Call),
		handlers:            make(map[types.UserID]map[types.DeviceID]*callHandlers),
		retries:             make(map[types.UserID]map[types.DeviceID]*retryEntry),
	}
	g.log = log.With().
		Str("module", "groupcall").
		Str("room", string(opts.Room.ID())).
		Str("call", string(opts.ID)).
		Logger()
	g.feeds = feed.NewRegistry(b, opts.Client.UserID(), cfg.SpeakingThreshold)

	if g.metrics != nil {
		b.Subscribe(broker.ActiveSpeakerChanged, func(any) {
			g.metrics.AddActiveSpeakerSwitch()
		})
	}

	g.roomUnsub = opts.Room.OnUpdate(func() {
		g.post(g.onRoomUpdate)
	})
	if opts.Incoming != nil {
		opts.Incoming.OnIncomingCall(func(c call.Call) {
			g.post(func() { g.onIncomingCall(c) })
		})
	}
	// Seed the view from whatever room state already exists.
	g.post(func() { g.updateParticipantsLocked() })
	return g, nil
}

// ID returns the group call id.
func (g *GroupCall) ID() types.GroupCallID { return g.id }

// Type returns the call's media type.
func (g *GroupCall) Type() wire.CallType { return g.callType }

// Intent returns the call's declared intent.
func (g *GroupCall) Intent() wire.CallIntent { return g.intent }

// IsPTT reports whether the call is push-to-talk.
func (g *GroupCall) IsPTT() bool { return g.isPTT }

// Broker returns the bus the coordinator publishes its events on.
func (g *GroupCall) Broker() *broker.Broker { return g.broker }

// Feeds returns the feed registry.
func (g *GroupCall) Feeds() *feed.Registry { return g.feeds }

// State returns the current lifecycle state.
func (g *GroupCall) State() State {
	g.lock()
	defer g.unlock()
	return g.state
}

// SetEnteredViaAnotherSession records that this user entered the call from
// another session and recomputes the participant view.
func (g *GroupCall) SetEnteredViaAnotherSession(entered bool) {
	g.lock()
	defer g.unlock()
	if g.enteredViaAnotherSession == entered {
		return
	}
	g.enteredViaAnotherSession = entered
	g.updateParticipantsLocked()
}

// InitLocalCallFeed acquires local capture and registers the local feed.
// It may only run in the uninitialized state.
func (g *GroupCall) InitLocalCallFeed(ctx context.Context) (*feed.CallFeed, error) {
	g.lock()
	if g.state != StateLocalCallFeedUninitialized {
		g.unlock()
		return nil, fmt.Errorf("state %s: %w", g.state, ErrNotUninitialized)
	}
	g.setStateLocked(StateInitializingLocalCallFeed)
	wantVideo := g.callType == wire.CallTypeVideo
	g.unlock()

	// Suspension point: capture happens without the coordinator lock so a
	// concurrent Leave can run.
	stream, err := g.media.GetUserMediaStream(ctx, true, wantVideo)

	g.lock()
	defer g.unlock()
	if g.state != StateInitializingLocalCallFeed {
		// Leave or Terminate won the race; never register the feed.
		if err == nil {
			g.media.StopUserMediaStream(stream)
		}
		return nil, ErrDisposed
	}
	if err != nil {
		g.setStateLocked(StateLocalCallFeedUninitialized)
		return nil, &CallError{Code: ErrCodeNoUserMedia, Message: "failed to acquire local media", Cause: err}
	}

	audioMuted := g.initWithAudioMuted || !stream.HasAudio() || g.isPTT
	videoMuted := g.initWithVideoMuted || !stream.HasVideo()
	localFeed := feed.New(feed.Opts{
		UserID:     g.client.UserID(),
		DeviceID:   g.client.DeviceID(),
		Purpose:    wire.PurposeUsermedia,
		Stream:     stream,
		Local:      true,
		AudioMuted: audioMuted,
		VideoMuted: videoMuted,
	})
	stream.SetAudioEnabled(!audioMuted)
	stream.SetVideoEnabled(!videoMuted)

	g.localFeed = localFeed
	g.feeds.AddUserMediaFeed(localFeed)
	g.setStateLocked(StateLocalCallFeedInitialized)
	return localFeed, nil
}

// Enter joins the group call: it publishes the local device, starts the
// periodic loops, computes the participant view and places the outbound
// calls the directionality rule assigns to this device.
func (g *GroupCall) Enter(ctx context.Context) error {
	g.lock()
	state := g.state
	g.unlock()

	if state == StateLocalCallFeedUninitialized {
		if _, err := g.InitLocalCallFeed(ctx); err != nil {
			return err
		}
	} else if state != StateLocalCallFeedInitialized {
		return fmt.Errorf("state %s: %w", state, ErrAlreadyEntered)
	}

	g.lock()
	defer g.unlock()
	if g.state != StateLocalCallFeedInitialized {
		return fmt.Errorf("state %s: %w", g.state, ErrAlreadyEntered)
	}
	g.setStateLocked(StateEntered)
	g.log.Info().Msg("entered group call")

	if err := g.publishLocalDeviceLocked(ctx, false); err != nil {
		g.log.Error().Err(err).Msg("failed to publish local device")
	}
	g.startLoopsLocked()
	if !g.updateParticipantsLocked() {
		// The view did not change (e.g. re-entering an unchanged room);
		// reconcile the graph against it anyway.
		g.placeOutgoingCallsLocked(ctx)
	}
	if g.incoming != nil {
		// Calls that rang before we entered are admitted now.
		for _, c := range g.incoming.ActiveCalls() {
			g.onIncomingCall(c)
		}
	}
	return nil
}

// Leave exits the call: every call is torn down, local capture stops, the
// local advertisement is removed and the state returns to uninitialized.
// A second Leave is a no-op.
func (g *GroupCall) Leave(ctx context.Context) {
	g.lock()
	defer g.unlock()
	if g.state == StateLocalCallFeedUninitialized || g.state == StateEnded {
		return
	}
	g.disposeLocked(ctx)
	g.setStateLocked(StateLocalCallFeedUninitialized)
}

// Terminate ends the call permanently. With emitStateEvent set, the group
// call state event is rewritten with a termination marker, preserving its
// other content.
func (g *GroupCall) Terminate(ctx context.Context, emitStateEvent bool) error {
	g.lock()
	defer g.unlock()
	if g.state == StateEnded {
		return nil
	}
	g.disposeLocked(ctx)
	if g.roomUnsub != nil {
		g.roomUnsub()
		g.roomUnsub = nil
	}
	g.setStateLocked(StateEnded)

	if !emitStateEvent {
		return nil
	}
	content := map[string]any{}
	if ev := g.room.StateEvent(types.EventGroupCall, string(g.id)); ev != nil {
		if err := ev.DecodeContent(&content); err != nil {
			return fmt.Errorf("decode group call state event: %w", err)
		}
	}
	content["m.terminated"] = wire.TerminatedCallEnded
	if err := g.client.SendStateEvent(ctx, g.room.ID(), types.EventGroupCall, content, string(g.id), client.SendStateOpts{}); err != nil {
		return fmt.Errorf("send termination state event: %w", err)
	}
	return nil
}

// disposeLocked tears everything down: calls, feeds, streams, timers and
// the published advertisement. Idempotent.
func (g *GroupCall) disposeLocked(ctx context.Context) {
	wasEntered := g.state == StateEntered

	for userID, devices := range g.calls {
		for deviceID, c := range devices {
			g.disposeCallLocked(c, call.HangupUserHangup)
			delete(devices, deviceID)
		}
		delete(g.calls, userID)
	}
	g.retries = make(map[types.UserID]map[types.DeviceID]*retryEntry)

	g.stopLoopsLocked()

	g.feeds.Dispose()
	g.localFeed = nil
	g.screenshareFeed = nil
	g.screenshareSourceID = ""
	g.media.StopAllStreams()
	g.participants = make(map[types.UserID]map[types.DeviceID]ParticipantState)

	if wasEntered {
		// The removal must survive process teardown.
		if err := g.updateDevicesLocked(ctx, g.removeLocalDeviceMutation(), true); err != nil {
			g.log.Error().Err(err).Msg("failed to remove device advertisement")
		}
	}
}

func (g *GroupCall) setStateLocked(newState State) {
	if g.state == newState {
		return
	}
	old := g.state
	g.state = newState
	g.broker.Publish(broker.StateChanged, StateChangedEvent{New: newState, Old: old})
}

// startLoopsLocked arms the periodic loops that run while entered.
func (g *GroupCall) startLoopsLocked() {
	g.retryStop = g.startTicker(g.cfg.RetryCallInterval, g.onRetryTick)
	g.speakerStop = g.startTicker(g.cfg.ActiveSpeakerInterval, g.onActiveSpeakerTick)
	g.refreshStop = g.startTicker(g.cfg.DeviceTimeout*3/4, g.onMembershipRefreshTick)
}

// stopLoopsLocked cancels every timer the coordinator holds. Double-cancel
// is safe.
func (g *GroupCall) stopLoopsLocked() {
	stopChannel(&g.retryStop)
	stopChannel(&g.speakerStop)
	stopChannel(&g.refreshStop)
	if g.expireTimer != nil {
		g.expireTimer.Stop()
		g.expireTimer = nil
	}
	if g.pttTimer != nil {
		g.pttTimer.Stop()
		g.pttTimer = nil
	}
}

func (g *GroupCall) startTicker(interval time.Duration, fn func()) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.post(fn)
			}
		}
	}()
	return stop
}

func stopChannel(ch *chan struct{}) {
	if *ch == nil {
		return
	}
	close(*ch)
	*ch = nil
}

func (g *GroupCall) onRoomUpdate() {
	if g.state == StateEnded {
		return
	}
	g.updateParticipantsLocked()
}

func (g *GroupCall) onActiveSpeakerTick() {
	if g.state != StateEntered {
		return
	}
	g.feeds.PickActiveSpeaker()
}

func (g *GroupCall) onMembershipRefreshTick() {
	if g.state != StateEntered {
		return
	}
	if err := g.publishLocalDeviceLocked(context.Background(), false); err != nil {
		g.log.Error().Err(err).Msg("failed to refresh device advertisement")
	}
}

// lock acquires the coordinator mutex.
func (g *GroupCall) lock() {
	g.mu.Lock()
	g.taskMu.Lock()
	g.held = true
	g.taskMu.Unlock()
}

// unlock drains queued callbacks, then releases the mutex.
func (g *GroupCall) unlock() {
	for {
		g.taskMu.Lock()
		if len(g.tasks) == 0 {
			g.held = false
			g.taskMu.Unlock()
			break
		}
		fn := g.tasks[0]
		g.tasks = g.tasks[1:]
		g.taskMu.Unlock()
		fn()
	}
	g.mu.Unlock()
}

// post runs fn under the coordinator mutex. When the mutex is already held
// by a pass on the current call stack, fn is queued and the holder runs it
// before releasing, which keeps callbacks serial without re-entrancy.
func (g *GroupCall) post(fn func()) {
	g.taskMu.Lock()
	if g.held {
		g.tasks = append(g.tasks, fn)
		g.taskMu.Unlock()
		return
	}
	g.taskMu.Unlock()

	g.lock()
	fn()
	g.unlock()
}
