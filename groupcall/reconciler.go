package groupcall

import (
	"context"
	"errors"
	"sort"

	"github.com/pion/webrtc/v4"

	"groupcall/broker"
	"groupcall/call"
	"groupcall/feed"
	"groupcall/types"
	"groupcall/types/wire"
)

// retryEntry tracks placement attempts for one slot. The counter is only
// meaningful for the session it was counted against; a new advertised
// session starts over.
type retryEntry struct {
	count   int
	session types.SessionID
}

// Calls returns a copy of the current call graph.
func (g *GroupCall) Calls() map[types.UserID]map[types.DeviceID]call.Call {
	g.lock()
	defer g.unlock()
	return copyCalls(g.calls)
}

// wantsOutgoingCall is the directionality rule: the local side places the
// call iff the remote (user, device) orders strictly greater than the local
// one. The order is total and antisymmetric over distinct pairs, so exactly
// one side of any pair originates.
func wantsOutgoingCall(localUser types.UserID, localDevice types.DeviceID, remoteUser types.UserID, remoteDevice types.DeviceID) bool {
	if remoteUser != localUser {
		return remoteUser > localUser
	}
	return remoteDevice > localDevice
}

// placeOutgoingCallsLocked walks the participant view and brings the call
// graph in line with it: place missing calls, replace calls whose advertised
// session changed, drop slots whose placement failed. One calls event is
// emitted per committed pass.
func (g *GroupCall) placeOutgoingCallsLocked(ctx context.Context) {
	localUser := g.client.UserID()
	localDevice := g.client.DeviceID()
	changed := false

	for _, userID := range sortedUsers(g.participants) {
		devices := g.participants[userID]
		for _, deviceID := range sortedDevices(devices) {
			participant := devices[deviceID]
			if userID == localUser && deviceID == localDevice {
				continue
			}
			if !wantsOutgoingCall(localUser, localDevice, userID, deviceID) {
				continue
			}

			existing := g.calls[userID][deviceID]
			if existing != nil && existing.OpponentSessionID() == participant.SessionID {
				continue
			}
			if g.retryExhaustedLocked(userID, deviceID, participant.SessionID) {
				continue
			}

			if existing != nil {
				g.log.Info().Str("peer", string(userID)).Str("device", string(deviceID)).Msg("replacing call for new session")
				g.disposeCallLocked(existing, call.HangupNewSession)
				delete(g.calls[userID], deviceID)
				changed = true
			}

			newCall := g.factory(g.room.ID(), call.CreateOpts{
				Invitee:           userID,
				OpponentDeviceID:  deviceID,
				OpponentSessionID: participant.SessionID,
				GroupCallID:       g.id,
			})
			if newCall == nil {
				g.log.Warn().Str("peer", string(userID)).Str("device", string(deviceID)).Msg("call construction yielded no call")
				g.metrics.AddPlacementFailure()
				continue
			}

			g.registerCallLocked(newCall)
			if g.calls[userID] == nil {
				g.calls[userID] = make(map[types.DeviceID]call.Call)
			}
			g.calls[userID][deviceID] = newCall
			changed = true

			if err := g.initiateCallLocked(ctx, newCall, participant); err != nil {
				g.metrics.AddPlacementFailure()
				if errors.Is(err, call.ErrUnknownDevice) {
					g.emitErrorLocked(&CallError{Code: ErrCodeUnknownDevice, Message: "placement refused for unknown device", Cause: err})
				} else {
					g.emitErrorLocked(&CallError{Code: ErrCodePlaceCallFailed, Message: "failed to place call", Cause: err})
				}
				g.disposeCallLocked(newCall, call.HangupSignallingFailed)
				if g.calls[userID][deviceID] == newCall {
					delete(g.calls[userID], deviceID)
				}
			}
		}
		if len(g.calls[userID]) == 0 {
			delete(g.calls, userID)
		}
	}

	if changed {
		g.emitCallsChangedLocked()
	}
}

// initiateCallLocked places the call with clones of all local feeds and
// opens the data channel when configured.
func (g *GroupCall) initiateCallLocked(ctx context.Context, c call.Call, participant ParticipantState) error {
	if err := c.PlaceWithFeeds(ctx, g.localFeedClonesLocked(), participant.Screensharing); err != nil {
		return err
	}
	if g.dataChannelsEnabled {
		if _, err := c.CreateDataChannel("datachannel", dataChannelInit(g.dcOpts)); err != nil {
			g.log.Warn().Err(err).Str("peer", string(c.OpponentUserID())).Msg("data channel creation failed")
		}
	}
	return nil
}

// onIncomingCall admits a ringing inbound call into the graph.
func (g *GroupCall) onIncomingCall(c call.Call) {
	if g.state != StateEntered {
		return
	}
	if c.RoomID() != g.room.ID() {
		return
	}
	if c.State() != call.StateRinging {
		return
	}
	if c.GroupCallID() != g.id {
		if err := c.Reject(); err != nil {
			g.log.Warn().Err(err).Msg("reject failed")
		}
		return
	}
	userID := c.OpponentUserID()
	if userID == "" {
		return
	}
	deviceID := c.OpponentDeviceID()

	if existing := g.calls[userID][deviceID]; existing != nil {
		if existing.ID() == c.ID() {
			// Duplicate delivery of a call we already admitted.
			return
		}
		g.disposeCallLocked(existing, call.HangupReplaced)
	}

	g.registerCallLocked(c)
	if err := c.AnswerWithFeeds(context.Background(), g.localFeedClonesLocked()); err != nil {
		g.log.Error().Err(err).Str("peer", string(userID)).Msg("answer failed")
	}
	if g.calls[userID] == nil {
		g.calls[userID] = make(map[types.DeviceID]call.Call)
	}
	g.calls[userID][deviceID] = c
	g.emitCallsChangedLocked()
}

// onCallHangup removes a hung-up call from the graph, unless it already
// lost its slot to a replacement.
func (g *GroupCall) onCallHangup(c call.Call) {
	if c.HangupReason() == call.HangupReplaced {
		// The replace callback owns this transition.
		return
	}
	userID := c.OpponentUserID()
	deviceID := c.OpponentDeviceID()
	if g.calls[userID][deviceID] != c {
		return
	}
	g.disposeCallLocked(c, c.HangupReason())
	delete(g.calls[userID], deviceID)
	if len(g.calls[userID]) == 0 {
		delete(g.calls, userID)
	}
	g.emitCallsChangedLocked()
}

// onCallReplaced swaps the slot of the previous call for its replacement.
// The slot stays keyed by the previous call's opponent device.
func (g *GroupCall) onCallReplaced(previous call.Call, replacement call.Call) {
	userID := previous.OpponentUserID()
	deviceID := previous.OpponentDeviceID()

	g.disposeCallLocked(previous, call.HangupReplaced)
	g.registerCallLocked(replacement)
	if g.calls[userID] == nil {
		g.calls[userID] = make(map[types.DeviceID]call.Call)
	}
	g.calls[userID][deviceID] = replacement
	g.emitCallsChangedLocked()
}

// onCallFeedsChanged diffs the call's remote feeds against the registry.
func (g *GroupCall) onCallFeedsChanged(c call.Call) {
	userID := c.OpponentUserID()
	deviceID := c.OpponentDeviceID()

	g.reconcileFeed(c.RemoteUsermediaFeed(), g.feeds.GetUserMediaFeed(userID, deviceID),
		g.feeds.AddUserMediaFeed, g.feeds.ReplaceUserMediaFeed, g.feeds.RemoveUserMediaFeed)
	g.reconcileFeed(c.RemoteScreensharingFeed(), g.feeds.GetScreenshareFeed(userID, deviceID),
		g.feeds.AddScreenshareFeed, g.feeds.ReplaceScreenshareFeed, g.feeds.RemoveScreenshareFeed)
}

func (g *GroupCall) reconcileFeed(remote, current *feed.CallFeed,
	add func(*feed.CallFeed),
	replace func(*feed.CallFeed, *feed.CallFeed) error,
	remove func(*feed.CallFeed) error,
) {
	switch {
	case remote != nil && current == nil:
		add(remote)
	case remote != nil && current != nil && remote != current:
		if err := replace(current, remote); err != nil {
			g.log.Error().Err(err).Msg("feed replace failed")
		}
	case remote == nil && current != nil:
		if err := remove(current); err != nil {
			g.log.Error().Err(err).Msg("feed remove failed")
		}
	}
}

// onCallStateChanged pushes the local mute bits into a call whose state
// disagrees with them and clears the retry counter on connect.
func (g *GroupCall) onCallStateChanged(c call.Call, newState call.State, _ call.State) {
	if g.localFeed != nil {
		audioMuted := g.localFeed.AudioMuted()
		if c.IsMicrophoneMuted() != audioMuted {
			if err := c.SetMicrophoneMuted(audioMuted); err != nil {
				g.log.Warn().Err(err).Msg("failed to push microphone mute state")
			}
		}
		videoMuted := g.localFeed.VideoMuted()
		if c.IsLocalVideoMuted() != videoMuted {
			if err := c.SetLocalVideoMuted(videoMuted); err != nil {
				g.log.Warn().Err(err).Msg("failed to push video mute state")
			}
		}
	}
	if newState == call.StateConnected {
		g.clearRetriesLocked(c.OpponentUserID(), c.OpponentDeviceID())
	}
}

// onRetryTick counts a retry for every slot the reconciler still wants to
// fill and runs a placement pass if any slot has attempts left.
func (g *GroupCall) onRetryTick() {
	if g.state != StateEntered {
		return
	}
	localUser := g.client.UserID()
	localDevice := g.client.DeviceID()
	shouldPlace := false

	for userID, devices := range g.participants {
		for deviceID, participant := range devices {
			if userID == localUser && deviceID == localDevice {
				continue
			}
			if !wantsOutgoingCall(localUser, localDevice, userID, deviceID) {
				continue
			}
			existing := g.calls[userID][deviceID]
			if existing != nil && existing.OpponentSessionID() == participant.SessionID {
				continue
			}
			entry := g.retryEntryLocked(userID, deviceID, participant.SessionID)
			if entry.count >= maxPlacementRetries {
				continue
			}
			entry.count++
			g.metrics.AddRetry()
			shouldPlace = true
		}
	}

	if shouldPlace {
		g.placeOutgoingCallsLocked(context.Background())
	}
}

// retryEntryLocked returns the retry bookkeeping for a slot, resetting it
// when the advertised session changed since the last attempt.
func (g *GroupCall) retryEntryLocked(userID types.UserID, deviceID types.DeviceID, session types.SessionID) *retryEntry {
	if g.retries[userID] == nil {
		g.retries[userID] = make(map[types.DeviceID]*retryEntry)
	}
	entry := g.retries[userID][deviceID]
	if entry == nil || entry.session != session {
		entry = &retryEntry{session: session}
		g.retries[userID][deviceID] = entry
	}
	return entry
}

// retryExhaustedLocked reports whether placement for a slot has used up its
// attempts for the advertised session.
func (g *GroupCall) retryExhaustedLocked(userID types.UserID, deviceID types.DeviceID, session types.SessionID) bool {
	entry := g.retries[userID][deviceID]
	return entry != nil && entry.session == session && entry.count >= maxPlacementRetries
}

func (g *GroupCall) clearRetriesLocked(userID types.UserID, deviceID types.DeviceID) {
	if devices := g.retries[userID]; devices != nil {
		delete(devices, deviceID)
		if len(devices) == 0 {
			delete(g.retries, userID)
		}
	}
}

// localFeedClonesLocked returns clones of every local feed, the shape every
// place and answer hands to the single-call layer.
func (g *GroupCall) localFeedClonesLocked() []*feed.CallFeed {
	var clones []*feed.CallFeed
	if g.localFeed != nil {
		clones = append(clones, g.localFeed.Clone())
	}
	if g.screenshareFeed != nil {
		clones = append(clones, g.screenshareFeed.Clone())
	}
	return clones
}

func (g *GroupCall) emitCallsChangedLocked() {
	g.metrics.SetCalls(countCalls(g.calls))
	g.broker.Publish(broker.CallsChanged, CallsChangedEvent{Calls: copyCalls(g.calls)})
}

func (g *GroupCall) emitErrorLocked(err *CallError) {
	g.log.Error().Err(err).Msg("group call error")
	g.broker.Publish(broker.CallError, err)
}

func dataChannelInit(opts *wire.DataChannelOptions) *webrtc.DataChannelInit {
	if opts == nil {
		return nil
	}
	init := &webrtc.DataChannelInit{
		Ordered:           opts.Ordered,
		MaxPacketLifeTime: opts.MaxPacketLifeTime,
		MaxRetransmits:    opts.MaxRetransmits,
	}
	if opts.Protocol != "" {
		protocol := opts.Protocol
		init.Protocol = &protocol
	}
	return init
}

func sortedUsers(m map[types.UserID]map[types.DeviceID]ParticipantState) []types.UserID {
	users := make([]types.UserID, 0, len(m))
	for userID := range m {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func sortedDevices(m map[types.DeviceID]ParticipantState) []types.DeviceID {
	devices := make([]types.DeviceID, 0, len(m))
	for deviceID := range m {
		devices = append(devices, deviceID)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

func copyCalls(in map[types.UserID]map[types.DeviceID]call.Call) map[types.UserID]map[types.DeviceID]call.Call {
	out := make(map[types.UserID]map[types.DeviceID]call.Call, len(in))
	for userID, devices := range in {
		out[userID] = make(map[types.DeviceID]call.Call, len(devices))
		for deviceID, c := range devices {
			out[userID][deviceID] = c
		}
	}
	return out
}

func countCalls(in map[types.UserID]map[types.DeviceID]call.Call) int {
	n := 0
	for _, devices := range in {
		n += len(devices)
	}
	return n
}
