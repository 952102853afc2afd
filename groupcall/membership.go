package groupcall

import (
	"context"
	"fmt"
	"time"

	"groupcall/client"
	"groupcall/types"
	"groupcall/types/wire"
)

// UpdateMemberState republishes the local device's advertisement in the
// room's member-state document.
func (g *GroupCall) UpdateMemberState(ctx context.Context) error {
	g.lock()
	defer g.unlock()
	return g.publishLocalDeviceLocked(ctx, false)
}

// CleanMemberState drops advertisements for devices the identity service no
// longer knows, plus our own device when we are not in the call. The write
// is skipped when nothing changes.
func (g *GroupCall) CleanMemberState(ctx context.Context) error {
	devices, err := g.client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	known := make(map[string]bool, len(devices))
	for _, d := range devices {
		known[string(d)] = true
	}

	g.lock()
	defer g.unlock()
	localDevice := string(g.client.DeviceID())
	dropLocal := !g.consideredEnteredLocked()

	return g.updateDevicesLocked(ctx, func(current []wire.DeviceAdvertisement) []wire.DeviceAdvertisement {
		filtered := make([]wire.DeviceAdvertisement, 0, len(current))
		for _, d := range current {
			if !known[d.DeviceID] {
				continue
			}
			if dropLocal && d.DeviceID == localDevice {
				continue
			}
			filtered = append(filtered, d)
		}
		if len(filtered) == len(current) {
			// Nothing to clean; skip the write.
			return nil
		}
		return filtered
	}, false)
}

// publishLocalDeviceLocked replaces our device's advertisement with a fresh
// one carrying the current session, feeds and expiry.
func (g *GroupCall) publishLocalDeviceLocked(ctx context.Context, keepAlive bool) error {
	localDevice := string(g.client.DeviceID())
	advert := wire.DeviceAdvertisement{
		DeviceID:  localDevice,
		SessionID: string(g.client.SessionID()),
		ExpiresTS: time.Now().Add(g.cfg.DeviceTimeout).UnixMilli(),
		Feeds:     g.localFeedEntriesLocked(),
	}
	return g.updateDevicesLocked(ctx, func(current []wire.DeviceAdvertisement) []wire.DeviceAdvertisement {
		next := make([]wire.DeviceAdvertisement, 0, len(current)+1)
		for _, d := range current {
			if d.DeviceID == localDevice {
				continue
			}
			next = append(next, d)
		}
		return append(next, advert)
	}, keepAlive)
}

// removeLocalDeviceMutation filters our device out of the advertisement
// list.
func (g *GroupCall) removeLocalDeviceMutation() func([]wire.DeviceAdvertisement) []wire.DeviceAdvertisement {
	localDevice := string(g.client.DeviceID())
	return func(current []wire.DeviceAdvertisement) []wire.DeviceAdvertisement {
		next := make([]wire.DeviceAdvertisement, 0, len(current))
		for _, d := range current {
			if d.DeviceID == localDevice {
				continue
			}
			next = append(next, d)
		}
		return next
	}
}

// updateDevicesLocked is the read-modify-write at the core of the
// publisher: read our member-state event, split the calls list into our
// entry and foreign entries, filter our devices with the same predicate the
// participant view uses, apply the mutation, and reassemble preserving the
// foreign entries verbatim. A nil mutation result aborts the write.
func (g *GroupCall) updateDevicesLocked(ctx context.Context, mutate func([]wire.DeviceAdvertisement) []wire.DeviceAdvertisement, keepAlive bool) error {
	now := time.Now()
	localUser := string(g.client.UserID())

	var content wire.MemberContent
	if event := g.room.StateEvent(types.EventGroupCallMember, localUser); event != nil {
		if err := event.DecodeContent(&content); err != nil {
			g.log.Debug().Err(err).Msg("replacing malformed member state")
			content = wire.MemberContent{}
		}
	}

	var ourDevices []wire.DeviceAdvertisement
	others := make([]wire.MemberCallEntry, 0, len(content.Calls))
	for _, entry := range content.Calls {
		if entry.CallID == string(g.id) {
			ourDevices = entry.ValidDevices(now)
			continue
		}
		others = append(others, entry)
	}

	mutated := mutate(ourDevices)
	if mutated == nil {
		return nil
	}

	next := wire.MemberContent{Calls: others}
	if len(mutated) > 0 {
		entry := wire.MemberCallEntry{CallID: string(g.id)}
		if err := entry.SetDevices(mutated); err != nil {
			return fmt.Errorf("encode device advertisements: %w", err)
		}
		next.Calls = append(next.Calls, entry)
	}

	if err := g.client.SendStateEvent(ctx, g.room.ID(), types.EventGroupCallMember, next, localUser, client.SendStateOpts{KeepAlive: keepAlive}); err != nil {
		return fmt.Errorf("write member state: %w", err)
	}
	g.metrics.AddMemberStateWrite()
	return nil
}

// localFeedEntriesLocked lists the purposes of the local feeds for the
// advertisement.
func (g *GroupCall) localFeedEntriesLocked() []wire.FeedEntry {
	entries := []wire.FeedEntry{}
	if g.localFeed != nil {
		entries = append(entries, wire.FeedEntry{Purpose: wire.PurposeUsermedia})
	}
	if g.screenshareFeed != nil {
		entries = append(entries, wire.FeedEntry{Purpose: wire.PurposeScreenshare})
	}
	return entries
}
