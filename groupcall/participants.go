package groupcall

import (
	"context"
	"time"

	"groupcall/broker"
	"groupcall/client"
	"groupcall/types"
	"groupcall/types/wire"
)

// ParticipantState is the view of one advertised device.
type ParticipantState struct {
	SessionID     types.SessionID
	Screensharing bool
}

// Participants returns a copy of the current participant view.
func (g *GroupCall) Participants() map[types.UserID]map[types.DeviceID]ParticipantState {
	g.lock()
	defer g.unlock()
	return copyParticipants(g.participants)
}

// UpdateParticipants recomputes the participant view from room state.
func (g *GroupCall) UpdateParticipants() {
	g.lock()
	defer g.unlock()
	g.updateParticipantsLocked()
}

// updateParticipantsLocked derives the (member, device) view from the
// group-call member events, drops expired or malformed advertisements,
// applies local echo, and re-arms the expiration timer. The participants
// event fires only when the view structurally changed; while entered, a
// committed change also triggers a placement pass. Returns whether a
// placement pass ran.
func (g *GroupCall) updateParticipantsLocked() bool {
	now := time.Now()
	next := make(map[types.UserID]map[types.DeviceID]ParticipantState)
	var earliestExpiry int64

	for _, event := range g.room.StateEvents(types.EventGroupCallMember) {
		userID := types.UserID(event.StateKey)
		member := g.room.Member(userID)
		if member == nil || member.Membership != client.MembershipJoin {
			continue
		}

		var content wire.MemberContent
		if err := event.DecodeContent(&content); err != nil {
			g.log.Debug().Err(err).Str("user", string(userID)).Msg("skipping malformed member event")
			continue
		}
		entry := findCallEntry(content.Calls, g.id)
		if entry == nil {
			continue
		}

		for _, device := range entry.ValidDevices(now) {
			deviceID := types.DeviceID(device.DeviceID)
			if userID == g.client.UserID() && deviceID == g.client.DeviceID() && !g.consideredEnteredLocked() {
				// Local echo suppression: our own advertisement only
				// counts once we are actually in the call.
				continue
			}
			if earliestExpiry == 0 || device.ExpiresTS < earliestExpiry {
				earliestExpiry = device.ExpiresTS
			}
			if next[userID] == nil {
				next[userID] = make(map[types.DeviceID]ParticipantState)
			}
			next[userID][deviceID] = ParticipantState{
				SessionID:     types.SessionID(device.SessionID),
				Screensharing: hasScreenshareFeed(device.Feeds),
			}
		}
	}

	if g.consideredEnteredLocked() {
		userID := g.client.UserID()
		deviceID := g.client.DeviceID()
		if next[userID] == nil {
			next[userID] = make(map[types.DeviceID]ParticipantState)
		}
		if _, ok := next[userID][deviceID]; !ok {
			next[userID][deviceID] = ParticipantState{
				SessionID:     g.client.SessionID(),
				Screensharing: g.screenshareFeed != nil,
			}
		}
	}

	changed := !participantsEqual(g.participants, next)
	g.participants = next
	g.armExpirationTimerLocked(earliestExpiry, now)

	if !changed {
		return false
	}
	g.metrics.SetParticipants(countParticipants(next))
	g.broker.Publish(broker.ParticipantsChanged, ParticipantsChangedEvent{Participants: copyParticipants(next)})
	if g.state != StateEntered {
		return false
	}
	g.placeOutgoingCallsLocked(context.Background())
	return true
}

// armExpirationTimerLocked schedules a single view refresh at the earliest
// advertisement expiry, cancelling any prior timer first.
func (g *GroupCall) armExpirationTimerLocked(earliestExpiry int64, now time.Time) {
	if g.expireTimer != nil {
		g.expireTimer.Stop()
		g.expireTimer = nil
	}
	if earliestExpiry == 0 {
		return
	}
	delay := time.Duration(earliestExpiry-now.UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	g.expireTimer = time.AfterFunc(delay, func() {
		g.post(func() {
			if g.state == StateEnded {
				return
			}
			g.updateParticipantsLocked()
		})
	})
}

// consideredEnteredLocked reports whether the local user counts as being in
// the call.
func (g *GroupCall) consideredEnteredLocked() bool {
	return g.state == StateEntered || g.enteredViaAnotherSession
}

func findCallEntry(entries []wire.MemberCallEntry, id types.GroupCallID) *wire.MemberCallEntry {
	for i := range entries {
		if entries[i].CallID == string(id) {
			return &entries[i]
		}
	}
	return nil
}

func hasScreenshareFeed(feeds []wire.FeedEntry) bool {
	for _, f := range feeds {
		if f.Purpose == wire.PurposeScreenshare {
			return true
		}
	}
	return false
}

func participantsEqual(a, b map[types.UserID]map[types.DeviceID]ParticipantState) bool {
	if len(a) != len(b) {
		return false
	}
	for userID, aDevices := range a {
		bDevices, ok := b[userID]
		if !ok || len(aDevices) != len(bDevices) {
			return false
		}
		for deviceID, aState := range aDevices {
			bState, ok := bDevices[deviceID]
			if !ok || aState != bState {
				return false
			}
		}
	}
	return true
}

func copyParticipants(in map[types.UserID]map[types.DeviceID]ParticipantState) map[types.UserID]map[types.DeviceID]ParticipantState {
	out := make(map[types.UserID]map[types.DeviceID]ParticipantState, len(in))
	for userID, devices := range in {
		out[userID] = make(map[types.DeviceID]ParticipantState, len(devices))
		for deviceID, state := range devices {
			out[userID][deviceID] = state
		}
	}
	return out
}

func countParticipants(in map[types.UserID]map[types.DeviceID]ParticipantState) int {
	n := 0
	for _, devices := range in {
		n += len(devices)
	}
	return n
}
