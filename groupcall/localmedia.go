package groupcall

import (
	"context"
	"time"

	"groupcall/broker"
	"groupcall/feed"
	"groupcall/media"
	"groupcall/types/wire"
)

// IsMicrophoneMuted reports the local microphone mute bit.
func (g *GroupCall) IsMicrophoneMuted() bool {
	g.lock()
	defer g.unlock()
	if g.localFeed == nil {
		return g.initWithAudioMuted
	}
	return g.localFeed.AudioMuted()
}

// IsLocalVideoMuted reports the local video mute bit.
func (g *GroupCall) IsLocalVideoMuted() bool {
	g.lock()
	defer g.unlock()
	if g.localFeed == nil {
		return g.initWithVideoMuted
	}
	return g.localFeed.VideoMuted()
}

// SetMicrophoneMuted sets the local microphone mute bit. Unmute requests
// are refused with false when no audio input device is available; mute
// requests always proceed.
func (g *GroupCall) SetMicrophoneMuted(ctx context.Context, muted bool) bool {
	if !muted && !g.media.HasAudioDevice() {
		return false
	}

	g.lock()
	defer g.unlock()

	g.armPTTTimerLocked(muted)

	if g.localFeed == nil {
		g.initWithAudioMuted = muted
		g.emitMuteStateLocked(muted, g.initWithVideoMuted)
		return true
	}

	// In push-to-talk, peers hear about the unmute before the tracks open
	// so they know speech is about to start.
	sendBefore := g.isPTT && !muted
	if sendBefore {
		g.sendMetadataUpdatesLocked(ctx)
	}

	g.localFeed.SetAudioMuted(muted)
	g.pushMuteStateToCallsLocked()

	if !sendBefore {
		g.sendMetadataUpdatesLocked(ctx)
	}

	g.emitMuteStateLocked(muted, g.localFeed.VideoMuted())
	return true
}

// SetLocalVideoMuted sets the local video mute bit. Unmute requests are
// refused with false when no video input device is available.
func (g *GroupCall) SetLocalVideoMuted(ctx context.Context, muted bool) bool {
	if !muted && !g.media.HasVideoDevice() {
		return false
	}

	g.lock()
	defer g.unlock()

	if g.localFeed == nil {
		g.initWithVideoMuted = muted
		g.emitMuteStateLocked(g.initWithAudioMuted, muted)
		return true
	}

	g.localFeed.SetVideoMuted(muted)
	g.pushMuteStateToCallsLocked()
	g.sendMetadataUpdatesLocked(ctx)

	g.emitMuteStateLocked(g.localFeed.AudioMuted(), muted)
	return true
}

// armPTTTimerLocked bounds a push-to-talk transmission: unmuting starts the
// one-shot re-mute timer, muting cancels it.
func (g *GroupCall) armPTTTimerLocked(muted bool) {
	if !g.isPTT {
		return
	}
	if g.pttTimer != nil {
		g.pttTimer.Stop()
		g.pttTimer = nil
	}
	if muted {
		return
	}
	g.pttTimer = time.AfterFunc(g.cfg.PTTMaxTransmitTime, func() {
		g.post(func() {
			if g.state == StateEnded {
				return
			}
			g.remuteMicrophoneLocked()
		})
	})
}

// remuteMicrophoneLocked re-mutes after the PTT transmit window. It runs
// inside a posted task, which already holds the coordinator lock.
func (g *GroupCall) remuteMicrophoneLocked() {
	if g.localFeed == nil {
		g.initWithAudioMuted = true
		g.emitMuteStateLocked(true, g.initWithVideoMuted)
		return
	}
	g.localFeed.SetAudioMuted(true)
	g.pushMuteStateToCallsLocked()
	g.sendMetadataUpdatesLocked(context.Background())
	g.emitMuteStateLocked(true, g.localFeed.VideoMuted())
}

// pushMuteStateToCallsLocked pushes the local mute bits into every call in
// the graph.
func (g *GroupCall) pushMuteStateToCallsLocked() {
	audioMuted := g.localFeed.AudioMuted()
	videoMuted := g.localFeed.VideoMuted()
	for _, devices := range g.calls {
		for _, c := range devices {
			if err := c.SetMicrophoneMuted(audioMuted); err != nil {
				g.log.Warn().Err(err).Msg("failed to set call microphone mute")
			}
			if err := c.SetLocalVideoMuted(videoMuted); err != nil {
				g.log.Warn().Err(err).Msg("failed to set call video mute")
			}
		}
	}
}

// sendMetadataUpdatesLocked notifies every call of the new media metadata.
// Failures are logged and never abort the pass.
func (g *GroupCall) sendMetadataUpdatesLocked(ctx context.Context) {
	for _, devices := range g.calls {
		for _, c := range devices {
			if err := c.SendMetadataUpdate(ctx); err != nil {
				g.log.Warn().Err(err).Str("peer", string(c.OpponentUserID())).Msg("metadata update failed")
			}
		}
	}
}

func (g *GroupCall) emitMuteStateLocked(audioMuted, videoMuted bool) {
	g.broker.Publish(broker.LocalMuteStateChanged, LocalMuteStateChangedEvent{
		AudioMuted: audioMuted,
		VideoMuted: videoMuted,
	})
}

// IsScreensharing reports whether the local screen-share feed exists.
func (g *GroupCall) IsScreensharing() bool {
	g.lock()
	defer g.unlock()
	return g.screenshareFeed != nil
}

// SetScreensharingEnabled starts or stops the local screen share. The bool
// result is the screen-share state after the operation; a capture failure is
// emitted on the error topic and returned.
func (g *GroupCall) SetScreensharingEnabled(ctx context.Context, enabled bool, opts media.ScreenshareOpts) (bool, error) {
	g.lock()
	if (g.screenshareFeed != nil) == enabled {
		g.unlock()
		return enabled, nil
	}

	if !enabled {
		defer g.unlock()
		g.stopScreenshareLocked(ctx)
		return false, nil
	}
	g.unlock()

	// Suspension point: capture without the coordinator lock.
	stream, err := g.media.GetScreensharingStream(ctx, opts)

	g.lock()
	defer g.unlock()
	if err != nil {
		captureErr := &CallError{Code: ErrCodeNoUserMedia, Message: "failed to capture screen", Cause: err}
		g.emitErrorLocked(captureErr)
		return false, captureErr
	}
	if g.state == StateEnded || g.screenshareFeed != nil {
		g.media.StopScreensharingStream(stream)
		return g.screenshareFeed != nil, nil
	}

	for _, track := range stream.Tracks() {
		track.OnEnded(func() {
			g.post(func() {
				if g.screenshareFeed != nil {
					g.stopScreenshareLocked(context.Background())
				}
			})
		})
	}

	share := feed.New(feed.Opts{
		UserID:   g.client.UserID(),
		DeviceID: g.client.DeviceID(),
		Purpose:  wire.PurposeScreenshare,
		Stream:   stream,
		Local:    true,
	})
	g.screenshareFeed = share
	g.screenshareSourceID = opts.DesktopCapturerSourceID
	g.feeds.AddScreenshareFeed(share)

	for _, devices := range g.calls {
		for _, c := range devices {
			if err := c.PushLocalFeed(share.Clone()); err != nil {
				g.log.Warn().Err(err).Str("peer", string(c.OpponentUserID())).Msg("failed to push screenshare feed")
			}
		}
	}

	g.broker.Publish(broker.LocalScreenshareStateChanged, LocalScreenshareStateChangedEvent{
		Enabled:  true,
		Feed:     share,
		SourceID: g.screenshareSourceID,
	})
	if g.state == StateEntered {
		if err := g.publishLocalDeviceLocked(ctx, false); err != nil {
			g.log.Error().Err(err).Msg("failed to advertise screenshare feed")
		}
	}
	return true, nil
}

// stopScreenshareLocked removes the screen-share feed from every call,
// stops capture and unregisters the feed.
func (g *GroupCall) stopScreenshareLocked(ctx context.Context) {
	share := g.screenshareFeed
	if share == nil {
		return
	}
	for _, devices := range g.calls {
		for _, c := range devices {
			if err := c.RemoveLocalFeed(share); err != nil {
				g.log.Warn().Err(err).Str("peer", string(c.OpponentUserID())).Msg("failed to remove screenshare feed")
			}
		}
	}
	g.media.StopScreensharingStream(share.Stream())
	if err := g.feeds.RemoveScreenshareFeed(share); err != nil {
		g.log.Error().Err(err).Msg("screenshare feed unregister failed")
	}
	g.screenshareFeed = nil
	g.screenshareSourceID = ""

	g.broker.Publish(broker.LocalScreenshareStateChanged, LocalScreenshareStateChangedEvent{Enabled: false})
	if g.state == StateEntered {
		if err := g.publishLocalDeviceLocked(ctx, false); err != nil {
			g.log.Error().Err(err).Msg("failed to advertise screenshare removal")
		}
	}
}
