package media

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTrackKinds(t *testing.T) {
	audio := NewStaticTrack(webrtc.RTPCodecTypeAudio)
	video := NewStaticTrack(webrtc.RTPCodecTypeVideo)
	stream := NewStream("s", audio, video)

	assert.True(t, stream.HasAudio())
	assert.True(t, stream.HasVideo())
	require.Len(t, stream.AudioTracks(), 1)
	require.Len(t, stream.VideoTracks(), 1)
	assert.Same(t, Track(audio), stream.AudioTracks()[0])
}

func TestStreamSetEnabledTogglesTracks(t *testing.T) {
	audio := NewStaticTrack(webrtc.RTPCodecTypeAudio)
	video := NewStaticTrack(webrtc.RTPCodecTypeVideo)
	stream := NewStream("s", audio, video)

	stream.SetAudioEnabled(false)
	assert.False(t, audio.Enabled())
	assert.True(t, video.Enabled())

	stream.SetVideoEnabled(false)
	assert.False(t, video.Enabled())
}

func TestStaticTrackEndedFiresOnce(t *testing.T) {
	track := NewStaticTrack(webrtc.RTPCodecTypeVideo)
	ended := 0
	track.OnEnded(func() { ended++ })

	require.NoError(t, track.Close())
	require.NoError(t, track.Close())

	assert.Equal(t, 1, ended)
}

func TestStaticHandlerCapture(t *testing.T) {
	handler := NewStaticHandler(true, false)

	stream, err := handler.GetUserMediaStream(context.Background(), true, true)
	require.NoError(t, err)
	assert.True(t, stream.HasAudio())
	assert.False(t, stream.HasVideo(), "no video device available")

	handler.StopUserMediaStream(stream)
	for _, track := range stream.Tracks() {
		st := track.(*StaticTrack)
		assert.NoError(t, st.Close())
	}
}

func TestStaticHandlerNoDevicesFails(t *testing.T) {
	handler := NewStaticHandler(false, false)

	_, err := handler.GetUserMediaStream(context.Background(), true, true)

	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestStaticHandlerStopAllStreams(t *testing.T) {
	handler := NewStaticHandler(true, true)
	first, err := handler.GetUserMediaStream(context.Background(), true, false)
	require.NoError(t, err)
	second, err := handler.GetScreensharingStream(context.Background(), ScreenshareOpts{})
	require.NoError(t, err)

	closed := 0
	first.Tracks()[0].OnEnded(func() { closed++ })
	second.Tracks()[0].OnEnded(func() { closed++ })

	handler.StopAllStreams()

	assert.Equal(t, 2, closed)
}
