package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyReturnsAProfile(t *testing.T) {
	profile := Classify(DefaultConfig())

	switch profile.Class {
	case Constrained:
		assert.True(t, profile.StartVideoMuted)
		assert.Equal(t, DefaultConstrainedWidth, profile.MaxVideoWidth)
		assert.Equal(t, DefaultConstrainedHeight, profile.MaxVideoHeight)
	case Capable:
		assert.False(t, profile.StartVideoMuted)
		assert.Equal(t, DefaultWidth, profile.MaxVideoWidth)
		assert.Equal(t, DefaultHeight, profile.MaxVideoHeight)
	default:
		t.Fatalf("unexpected class %v", profile.Class)
	}
}

func TestClassifyHighThresholdIsConstrained(t *testing.T) {
	config := DefaultConfig()
	config.MinCores = 1 << 16

	profile := Classify(config)

	assert.Equal(t, Constrained, profile.Class)
	assert.True(t, profile.StartVideoMuted)
}

func TestClassifyZeroThresholdsIsCapable(t *testing.T) {
	config := DefaultConfig()
	config.MinCores = 0
	config.MinAvailableMB = 0

	profile := Classify(config)

	assert.Equal(t, Capable, profile.Class)
}
