// Package decay implements temporal decay of evidence confidence.
//
// Evidence gets weaker as it ages. An observation made today carries its full
// confidence; one made a month ago is discounted by a per-day factor:
//
//	decayed = base × factor^ageDays
//
// Decay is always computed from the evidence's base confidence, never from the
// previously decayed value, so re-applying it at the same instant is a no-op.
// That makes it safe to refresh decay whenever a node is touched.
//
// Example Usage:
//
//	manager := decay.New(decay.DefaultConfig())
//
//	base := confidence.Uniform(0.9)
//	observed := time.Now().Add(-10 * 24 * time.Hour)
//
//	decayed := manager.Apply(base, observed)
//	fmt.Printf("%.3f\n", decayed[0]) // 0.539 (0.9 × 0.95^10)
//
// ELI12 (Explain Like I'm 12):
//
// Think of evidence like a rumor. A rumor you heard this morning is pretty
// believable. The same rumor from last year? You're less sure it still holds.
// Every day that passes shaves a little off how much you trust it.
package decay

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/orneryd/thoughtgraph/pkg/confidence"
)

// Day is the unit decay ages are measured in.
const Day = 24 * time.Hour

// Config holds decay configuration.
//
// Example:
//
//	config := &decay.Config{
//		Factor:  0.9, // lose 10% per day
//		MaxAge:  365 * decay.Day,
//	}
type Config struct {
	// Factor is the per-day multiplier in (0,1].
	//
	// Default: 0.95
	//
	// 1.0 disables decay entirely.
	Factor float64

	// MaxAge caps the age used in the calculation. Zero means uncapped.
	//
	// Default: 0
	MaxAge time.Duration
}

// DefaultConfig returns a Config with a 0.95 daily factor and no age cap.
func DefaultConfig() *Config {
	return &Config{
		Factor: 0.95,
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Factor <= 0 || c.Factor > 1 {
		return fmt.Errorf("decay factor must be in (0,1], got %.4f", c.Factor)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("decay max age must not be negative, got %s", c.MaxAge)
	}
	return nil
}

// Manager computes decayed confidence.
//
// Thread Safety:
//
//	Manager is safe for concurrent use. SetClock is intended for tests.
type Manager struct {
	config *Config
	mu     sync.RWMutex
	now    func() time.Time
}

// New creates a Manager. If config is nil, DefaultConfig() is used.
func New(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		config: config,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

// AgeDays returns fractional days between observedAt and now. Observations
// in the future have age zero.
func (m *Manager) AgeDays(observedAt, now time.Time) float64 {
	age := now.Sub(observedAt)
	if age <= 0 {
		return 0
	}
	if m.config.MaxAge > 0 && age > m.config.MaxAge {
		age = m.config.MaxAge
	}
	return age.Hours() / 24
}

// Factor returns factor^ageDays.
func (m *Manager) Factor(ageDays float64) float64 {
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(m.config.Factor, ageDays)
}

// Apply decays base as of the manager's clock.
func (m *Manager) Apply(base confidence.Vector, observedAt time.Time) confidence.Vector {
	return m.ApplyAt(base, observedAt, m.Now())
}

// ApplyAt decays base as of now.
//
// A zero age returns base untouched. Any real decay is clamped to
// [confidence.MinConfidence, confidence.MaxConfidence].
func (m *Manager) ApplyAt(base confidence.Vector, observedAt, now time.Time) confidence.Vector {
	age := m.AgeDays(observedAt, now)
	if age == 0 {
		return base
	}
	return base.Scale(m.Factor(age)).Bounded()
}
