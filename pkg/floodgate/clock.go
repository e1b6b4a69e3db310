package floodgate

import (
	"sync"
	"time"
)

// Clock supplies the current time to an engine.
// Engines never call time.Now directly, so tests can drive time
// deterministically with a ManualClock.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock whose time only moves when told to.
// It is intended for tests that need exact control over refill,
// leak and window arithmetic.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock frozen at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative values move it backward,
// which is useful for exercising clock-anomaly handling.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to the given instant.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
