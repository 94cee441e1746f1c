package decay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.95, cfg.Factor)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{Factor: 0}).Validate())
	assert.Error(t, (&Config{Factor: 1.5}).Validate())
	assert.Error(t, (&Config{Factor: 0.9, MaxAge: -time.Hour}).Validate())
	assert.NoError(t, (&Config{Factor: 1}).Validate())
}

func TestApplyAt(t *testing.T) {
	m := New(nil)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	base := confidence.Uniform(0.9)

	decayed := m.ApplyAt(base, now.Add(-10*Day), now)

	want := 0.9 * math.Pow(0.95, 10)
	for _, c := range decayed {
		assert.InDelta(t, want, c, 1e-9)
	}
}

func TestApplyAt_IdempotentAtZeroAge(t *testing.T) {
	m := New(nil)
	now := time.Now()
	base := confidence.Uniform(0.9)

	once := m.ApplyAt(base, now, now)
	twice := m.ApplyAt(once, now, now)

	assert.Equal(t, base, once)
	assert.Equal(t, once, twice)
}

func TestApplyAt_RecomputedFromBase(t *testing.T) {
	m := New(nil)
	now := time.Now()
	base := confidence.Uniform(0.8)
	observed := now.Add(-3 * Day)

	first := m.ApplyAt(base, observed, now)
	second := m.ApplyAt(base, observed, now)
	assert.Equal(t, first, second)
}

func TestApplyAt_FutureObservation(t *testing.T) {
	m := New(nil)
	now := time.Now()
	base := confidence.Uniform(0.7)
	assert.Equal(t, base, m.ApplyAt(base, now.Add(Day), now))
}

func TestApplyAt_ClampsAndCaps(t *testing.T) {
	m := New(&Config{Factor: 0.5, MaxAge: 2 * Day})
	now := time.Now()

	decayed := m.ApplyAt(confidence.Uniform(0.8), now.Add(-100*Day), now)
	for _, c := range decayed {
		assert.InDelta(t, 0.2, c, 1e-9)
	}

	floor := New(&Config{Factor: 0.1}).ApplyAt(confidence.Uniform(0.5), now.Add(-30*Day), now)
	assert.Equal(t, confidence.Uniform(confidence.MinConfidence), floor)
}

func TestApply_UsesClock(t *testing.T) {
	m := New(nil)
	fixed := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	decayed := m.Apply(confidence.Uniform(0.9), fixed.Add(-Day))
	assert.InDelta(t, 0.9*0.95, decayed[0], 1e-9)
	assert.Equal(t, fixed, m.Now())
}
