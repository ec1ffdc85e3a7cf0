package quality

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		loss   float64
		jitter time.Duration
		want   Tier
	}{
		{"high loss", 0.06, 10 * time.Millisecond, TierPoor},
		{"high jitter", 0.0, 40 * time.Millisecond, TierPoor},
		{"moderate loss", 0.03, 10 * time.Millisecond, TierGood},
		{"moderate jitter", 0.0, 20 * time.Millisecond, TierGood},
		{"clean link", 0.01, 5 * time.Millisecond, TierExcellent},
		{"zero sample", 0.0, 0, TierExcellent},
		{"poor boundary is good", 0.05, 30 * time.Millisecond, TierGood},
		{"good boundary is excellent", 0.02, 15 * time.Millisecond, TierExcellent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Sample{PacketLoss: tt.loss, Jitter: tt.jitter})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "excellent", TierExcellent.String())
	assert.Equal(t, "good", TierGood.String())
	assert.Equal(t, "poor", TierPoor.String())
}

func TestMonitorEmitsOnlyOnTierChange(t *testing.T) {
	sample := Sample{PacketLoss: 0.0, Jitter: time.Millisecond}
	var sampleErr error
	source := func() (Sample, error) { return sample, sampleErr }

	var emitted []Tier
	m := NewMonitor("call-1", source, func(tier Tier, _ Sample) {
		emitted = append(emitted, tier)
	})

	// First sample always reports; repeats of the same tier do not.
	m.Poll()
	m.Poll()
	require.Equal(t, []Tier{TierExcellent}, emitted)

	sample = Sample{PacketLoss: 0.06, Jitter: time.Millisecond}
	m.Poll()
	m.Poll()
	require.Equal(t, []Tier{TierExcellent, TierPoor}, emitted)

	// Failed reads keep the last known tier.
	sampleErr = errors.New("stats unavailable")
	m.Poll()
	require.Equal(t, []Tier{TierExcellent, TierPoor}, emitted)

	_, tier, ok := m.Last()
	assert.True(t, ok)
	assert.Equal(t, TierPoor, tier)
}

func TestMonitorStartStop(t *testing.T) {
	source := func() (Sample, error) { return Sample{}, nil }
	m := NewMonitor("call-1", source, nil)

	m.Start()
	m.Start() // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op
}
