package groupcall

import (
	"fmt"

	"groupcall/call"
	"groupcall/types"
)

// callHandlers pairs a registered call with the teardown closures of its
// four event subscriptions.
type callHandlers struct {
	feedsChanged func()
	stateChanged func()
	hangup       func()
	replaced     func()
}

func (h *callHandlers) unsubscribe() {
	h.feedsChanged()
	h.stateChanged()
	h.hangup()
	h.replaced()
}

// registerCallLocked subscribes the per-call listeners and stores their
// teardown closures keyed by the call's opponent.
func (g *GroupCall) registerCallLocked(c call.Call) {
	userID := c.OpponentUserID()
	if userID == "" {
		panic(fmt.Sprintf("groupcall: initializing call %s without an opponent user id", c.ID()))
	}
	deviceID := c.OpponentDeviceID()

	handlers := &callHandlers{
		feedsChanged: c.OnFeedsChanged(func() {
			g.post(func() { g.onCallFeedsChanged(c) })
		}),
		stateChanged: c.OnStateChanged(func(newState, oldState call.State) {
			g.post(func() { g.onCallStateChanged(c, newState, oldState) })
		}),
		hangup: c.OnHangup(func() {
			g.post(func() { g.onCallHangup(c) })
		}),
		replaced: c.OnReplaced(func(replacement call.Call) {
			g.post(func() { g.onCallReplaced(c, replacement) })
		}),
	}
	if g.handlers[userID] == nil {
		g.handlers[userID] = make(map[types.DeviceID]*callHandlers)
	}
	g.handlers[userID][deviceID] = handlers
}

// disposeCallLocked unsubscribes the call's listeners, removes its handler
// entry and hangs the call up. A handler entry that cannot be found is a
// broken internal invariant.
func (g *GroupCall) disposeCallLocked(c call.Call, reason call.HangupReason) {
	userID := c.OpponentUserID()
	if userID == "" {
		panic(fmt.Sprintf("groupcall: disposing call %s without an opponent user id", c.ID()))
	}
	deviceID := c.OpponentDeviceID()

	handlers := g.handlers[userID][deviceID]
	if handlers == nil {
		panic(fmt.Sprintf("groupcall: no call handlers for %s/%s", userID, deviceID))
	}
	handlers.unsubscribe()
	delete(g.handlers[userID], deviceID)
	if len(g.handlers[userID]) == 0 {
		delete(g.handlers, userID)
	}

	if c.State() != call.StateEnded {
		if err := c.Hangup(reason, false); err != nil {
			g.log.Warn().Err(err).Str("peer", string(userID)).Msg("hangup failed")
		}
	}
}
