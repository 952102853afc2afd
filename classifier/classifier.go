// Package classifier probes the host and classifies its capture capability,
// so constrained machines join calls with cheaper defaults.
package classifier

import (
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Class is a host capability tier.
type Class int

// Capability classes.
const (
	// Constrained hosts should join with video muted and capture at low
	// resolution.
	Constrained Class = iota

	// Capable hosts handle the default capture profile.
	Capable
)

// Profile is the capture profile derived from the host class.
type Profile struct {
	Class           Class
	MaxVideoWidth   int
	MaxVideoHeight  int
	StartVideoMuted bool
}

// Classify probes CPU count and available memory and derives a capture
// profile. Probe failures fall back to the runtime's view of the host.
func Classify(config Config) Profile {
	cores, err := cpu.Counts(true)
	if err != nil || cores == 0 {
		log.Debug().Str("module", "classifier").Err(err).Msg("cpu probe failed, using runtime count")
		cores = runtime.NumCPU()
	}

	var availableMB uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		availableMB = vm.Available / (1 << 20)
	} else {
		log.Debug().Str("module", "classifier").Err(err).Msg("memory probe failed")
	}

	if cores < config.MinCores || (availableMB > 0 && availableMB < config.MinAvailableMB) {
		log.Info().Str("module", "classifier").Int("cores", cores).Uint64("available_mb", availableMB).Msg("host classified as constrained")
		return Profile{
			Class:           Constrained,
			MaxVideoWidth:   config.ConstrainedWidth,
			MaxVideoHeight:  config.ConstrainedHeight,
			StartVideoMuted: true,
		}
	}
	return Profile{
		Class:          Capable,
		MaxVideoWidth:  config.DefaultWidth,
		MaxVideoHeight: config.DefaultHeight,
	}
}
