package groupcall

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcall/broker"
	"groupcall/call"
	"groupcall/feed"
	"groupcall/types"
	"groupcall/types/wire"
)

func TestTwoPartyVoiceCallLocalPlaces(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))

	n := e.countEvents(broker.CallsChanged)
	e.enter()

	created := e.factory.createdCalls()
	require.Len(t, created, 1)
	require.Len(t, e.factory.opts, 1)
	assert.Equal(t, call.CreateOpts{
		Invitee:           "@b:h",
		OpponentDeviceID:  "DB",
		OpponentSessionID: "s1",
		GroupCallID:       testCallID,
	}, e.factory.opts[0])

	placed := created[0]
	assert.True(t, placed.placed)
	require.Len(t, placed.placedFeeds, 1)
	assert.Equal(t, wire.PurposeUsermedia, placed.placedFeeds[0].Purpose())
	assert.False(t, placed.remoteScreenshare)

	assert.Equal(t, 1, *n)
	graph := e.g.Calls()
	require.Contains(t, graph, types.UserID("@b:h"))
	assert.Same(t, call.Call(placed), graph["@b:h"]["DB"])
}

func TestDirectionalityRemotePlaces(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h", device: "D1"})
	defer e.cleanup()
	e.advertise("@a:h", advert("D9", "s1"))
	e.enter()

	// "@a:h" < "@z:h": the remote side originates, we must not place.
	assert.Empty(t, e.factory.createdCalls())

	inbound := newFakeCall("!room", testCallID, "@a:h", "D9", "s1")
	inbound.state = call.StateRinging
	e.incoming.deliver(inbound)

	assert.True(t, inbound.answered)
	graph := e.g.Calls()
	require.Contains(t, graph, types.UserID("@a:h"))
	assert.Same(t, call.Call(inbound), graph["@a:h"]["D9"])
}

func TestSessionReplacement(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	first := e.factory.createdCalls()[0]
	n := e.countEvents(broker.CallsChanged)

	e.advertise("@b:h", advert("DB", "s2"))

	created := e.factory.createdCalls()
	require.Len(t, created, 2)
	assert.Equal(t, call.HangupNewSession, first.HangupReason())
	assert.Equal(t, call.StateEnded, first.State())

	second := created[1]
	assert.True(t, second.placed)
	assert.Equal(t, types.SessionID("s2"), second.OpponentSessionID())
	assert.Same(t, call.Call(second), e.g.Calls()["@b:h"]["DB"])
	assert.Equal(t, 1, *n)
}

func TestRetryCap(t *testing.T) {
	// Keep the real retry ticker out of the way; ticks are driven by hand.
	e := newTestEnv(t, envOpts{config: Config{RetryCallInterval: time.Hour}})
	defer e.cleanup()
	e.factory.placeErr = errors.New("transport down")
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	// The initial pass attempted once and freed the slot.
	assert.Len(t, e.factory.createdCalls(), 1)
	assert.Empty(t, e.g.Calls())

	for i := 0; i < 5; i++ {
		e.g.post(e.g.onRetryTick)
	}

	// Three retries on top of the initial attempt, then the loop gives up.
	assert.Len(t, e.factory.createdCalls(), 4)

	// A new advertised session starts the budget over.
	e.factory.placeErr = nil
	e.advertise("@b:h", advert("DB", "s2"))
	assert.Len(t, e.factory.createdCalls(), 5)
	assert.NotEmpty(t, e.g.Calls())
}

func TestRetryCounterClearsOnConnected(t *testing.T) {
	e := newTestEnv(t, envOpts{config: Config{RetryCallInterval: time.Hour}})
	defer e.cleanup()
	e.factory.placeErr = errors.New("transport down")
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	e.g.post(e.g.onRetryTick)
	e.g.post(e.g.onRetryTick)

	// A manual attempt succeeds and connects; the counter must clear.
	e.factory.placeErr = nil
	inbound := newFakeCall("!room", testCallID, "@b:h", "DB", "s1")
	inbound.state = call.StateRinging
	e.incoming.deliver(inbound)
	inbound.setState(call.StateConnected)

	e.g.lock()
	_, exists := e.g.retries["@b:h"]
	e.g.unlock()
	assert.False(t, exists)
}

func TestPlacementFailureUnknownDevice(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.factory.placeErr = fmt.Errorf("no such device: %w", call.ErrUnknownDevice)

	var errs []*CallError
	e.bus.Subscribe(broker.CallError, func(ev any) { errs = append(errs, ev.(*CallError)) })

	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeUnknownDevice, errs[0].Code)
	assert.ErrorIs(t, errs[0], call.ErrUnknownDevice)
	assert.Empty(t, e.g.Calls())

	failed := e.factory.createdCalls()[0]
	assert.Equal(t, call.HangupSignallingFailed, failed.HangupReason())
}

func TestPlacementFailureGeneric(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.factory.placeErr = errors.New("ice exploded")

	var errs []*CallError
	e.bus.Subscribe(broker.CallError, func(ev any) { errs = append(errs, ev.(*CallError)) })

	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodePlaceCallFailed, errs[0].Code)
}

func TestFactoryRefusalFreesSlot(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.factory.refuse = true

	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	assert.Empty(t, e.g.Calls())
	assert.Len(t, e.factory.opts, 1)
}

func TestIncomingDuplicateIgnored(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h"})
	defer e.cleanup()
	e.enter()

	inbound := newFakeCall("!room", testCallID, "@a:h", "D9", "s1")
	inbound.state = call.StateRinging
	e.incoming.deliver(inbound)

	n := e.countEvents(broker.CallsChanged)
	e.incoming.deliver(inbound)

	assert.Zero(t, *n)
	assert.Same(t, call.Call(inbound), e.g.Calls()["@a:h"]["D9"])
}

func TestIncomingReplacesExistingCall(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h"})
	defer e.cleanup()
	e.enter()

	first := newFakeCall("!room", testCallID, "@a:h", "D9", "s1")
	first.state = call.StateRinging
	e.incoming.deliver(first)

	second := newFakeCall("!room", testCallID, "@a:h", "D9", "s2")
	second.state = call.StateRinging
	e.incoming.deliver(second)

	assert.Equal(t, call.HangupReplaced, first.HangupReason())
	assert.Same(t, call.Call(second), e.g.Calls()["@a:h"]["D9"])
}

func TestIncomingWrongRoomIgnored(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h"})
	defer e.cleanup()
	e.enter()

	inbound := newFakeCall("!other", testCallID, "@a:h", "D9", "s1")
	inbound.state = call.StateRinging
	e.incoming.deliver(inbound)

	assert.False(t, inbound.answered)
	assert.False(t, inbound.rejected)
	assert.Empty(t, e.g.Calls())
}

func TestIncomingWrongGroupCallRejected(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h"})
	defer e.cleanup()
	e.enter()

	inbound := newFakeCall("!room", "H", "@a:h", "D9", "s1")
	inbound.state = call.StateRinging
	e.incoming.deliver(inbound)

	assert.True(t, inbound.rejected)
	assert.Empty(t, e.g.Calls())
}

func TestIncomingNotRingingIgnored(t *testing.T) {
	e := newTestEnv(t, envOpts{user: "@z:h"})
	defer e.cleanup()
	e.enter()

	inbound := newFakeCall("!room", testCallID, "@a:h", "D9", "s1")
	inbound.state = call.StateConnecting
	e.incoming.deliver(inbound)

	assert.False(t, inbound.answered)
	assert.Empty(t, e.g.Calls())
}

func TestHangupRemovesSlot(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	placed := e.factory.createdCalls()[0]
	n := e.countEvents(broker.CallsChanged)

	placed.fireHangup(call.HangupUserHangup)

	assert.Empty(t, e.g.Calls())
	assert.Equal(t, 1, *n)
}

func TestHangupWithReplacedReasonIgnored(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	placed := e.factory.createdCalls()[0]
	placed.fireHangup(call.HangupReplaced)

	// Replacement is the replace callback's job; the slot stays.
	assert.Same(t, call.Call(placed), e.g.Calls()["@b:h"]["DB"])
}

func TestReplaceSwapsSlot(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	placed := e.factory.createdCalls()[0]
	replacement := newFakeCall("!room", testCallID, "@b:h", "DB", "s1")
	n := e.countEvents(broker.CallsChanged)

	placed.fireReplaced(replacement)

	assert.Equal(t, call.HangupReplaced, placed.HangupReason())
	assert.Same(t, call.Call(replacement), e.g.Calls()["@b:h"]["DB"])
	assert.Equal(t, 1, *n)
}

func TestFeedReconciliation(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	placed := e.factory.createdCalls()[0]

	remote := feed.New(feed.Opts{UserID: "@b:h", DeviceID: "DB", Purpose: wire.PurposeUsermedia})
	placed.remoteUM = remote
	placed.fireFeedsChanged()
	assert.Same(t, remote, e.g.Feeds().GetUserMediaFeed("@b:h", "DB"))

	swapped := feed.New(feed.Opts{UserID: "@b:h", DeviceID: "DB", Purpose: wire.PurposeUsermedia})
	placed.remoteUM = swapped
	placed.fireFeedsChanged()
	assert.Same(t, swapped, e.g.Feeds().GetUserMediaFeed("@b:h", "DB"))
	assert.True(t, remote.Disposed())

	placed.remoteUM = nil
	placed.fireFeedsChanged()
	assert.Nil(t, e.g.Feeds().GetUserMediaFeed("@b:h", "DB"))
}

func TestMuteEnforcementOnStateChange(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"))
	e.enter()

	placed := e.factory.createdCalls()[0]
	placed.micMuted = true

	placed.setState(call.StateConnected)

	// The local feed is unmuted, so the call must be corrected.
	assert.False(t, placed.micMuted)
}

func TestGraphAndHandlerTableKeysMatch(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.advertise("@b:h", advert("DB", "s1"), advert("DC", "s2"))
	e.advertise("@c:h", advert("DD", "s3"))
	e.enter()

	e.g.lock()
	defer e.g.unlock()
	assert.Equal(t, len(e.g.calls), len(e.g.handlers))
	for userID, devices := range e.g.calls {
		require.Contains(t, e.g.handlers, userID)
		assert.Equal(t, len(devices), len(e.g.handlers[userID]))
		assert.NotEmpty(t, devices, "inner call maps must never be empty")
	}
}

func TestWantsOutgoingCallProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := func() (types.UserID, types.DeviceID) {
		return types.UserID(fmt.Sprintf("@u%d:h", rng.Intn(50))), types.DeviceID(fmt.Sprintf("D%d", rng.Intn(50)))
	}

	for i := 0; i < 1000; i++ {
		u1, d1 := ids()
		u2, d2 := ids()
		if u1 == u2 && d1 == d2 {
			continue
		}
		a := wantsOutgoingCall(u1, d1, u2, d2)
		b := wantsOutgoingCall(u2, d2, u1, d1)
		assert.NotEqual(t, a, b, "exactly one side must originate: %s/%s vs %s/%s", u1, d1, u2, d2)
	}

	// Transitivity on sampled triples.
	for i := 0; i < 1000; i++ {
		u1, d1 := ids()
		u2, d2 := ids()
		u3, d3 := ids()
		if wantsOutgoingCall(u1, d1, u2, d2) && wantsOutgoingCall(u2, d2, u3, d3) {
			assert.True(t, wantsOutgoingCall(u1, d1, u3, d3))
		}
	}
}
