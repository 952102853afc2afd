package feed

import (
	"errors"
	"io"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// DefaultAudioLevelExtensionID is the RTP header extension id the
// audio-level extension (RFC 6464) is usually negotiated on.
const DefaultAudioLevelExtensionID = 1

// RTPReader is the surface a track must expose for volume sampling.
// media.RemoteTrack satisfies it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// volumeSampler pulls RTP packets off an audio track and turns RFC 6464
// audio-level extensions into volume samples on the feed.
type volumeSampler struct {
	feed *CallFeed
	done chan struct{}
}

// StartVolumeSampling begins reading audio levels from r into the feed's
// sample window. Sampling stops when the reader is exhausted or the feed is
// disposed. Starting twice replaces the previous sampler.
func (f *CallFeed) StartVolumeSampling(r RTPReader, extensionID uint8) {
	s := &volumeSampler{feed: f, done: make(chan struct{})}

	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	prev := f.sampler
	f.sampler = s
	f.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	go s.run(r, extensionID)
}

func (s *volumeSampler) run(r RTPReader, extensionID uint8) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		packet, _, err := r.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Str("module", "feed").Err(err).Msg("volume sampling stopped")
			}
			return
		}

		payload := packet.GetExtension(extensionID)
		if payload == nil {
			continue
		}
		var level rtp.AudioLevelExtension
		if err := level.Unmarshal(payload); err != nil {
			continue
		}
		// Level is attenuation in dBov; store as a negative dB value so
		// louder samples compare greater.
		s.feed.AppendVolumeSample(-float64(level.Level))
	}
}

func (s *volumeSampler) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
