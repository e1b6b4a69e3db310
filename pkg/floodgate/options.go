package floodgate

import (
	"fmt"
	"math"
	"time"
)

// Option configures an engine at construction time.
type Option func(*engineOptions) error

// engineOptions holds the settings shared by all four engines.
type engineOptions struct {
	clock         Clock
	defaultCost   float64
	idleTimeout   time.Duration
	sweepInterval time.Duration
	onSweepError  func(error)
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		clock:         systemClock{},
		defaultCost:   1,
		idleTimeout:   10 * time.Minute,
		sweepInterval: time.Minute,
	}
}

func buildEngineOptions(opts []Option) (engineOptions, error) {
	o := defaultEngineOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return o, nil
}

// WithClock sets a custom time source. Tests use this with a ManualClock
// to drive refill and window arithmetic deterministically.
func WithClock(clock Clock) Option {
	return func(o *engineOptions) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		o.clock = clock
		return nil
	}
}

// WithDefaultCost sets the cost consumed by Check. Default: 1.
func WithDefaultCost(cost float64) Option {
	return func(o *engineOptions) error {
		if cost <= 0 || math.IsInf(cost, 1) || math.IsNaN(cost) {
			return fmt.Errorf("%w: default cost %v", ErrInvalidCost, cost)
		}
		o.defaultCost = cost
		return nil
	}
}

// WithIdleTimeout sets how long a client may go without a check before its
// state becomes eligible for eviction. Zero disables eviction entirely.
// Default: 10 minutes.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d < 0 {
			return fmt.Errorf("%w: idle timeout cannot be negative", ErrInvalidConfig)
		}
		o.idleTimeout = d
		return nil
	}
}

// WithSweepInterval sets how often the eviction sweeper runs. A few times
// the configured window or refill period is a reasonable choice. Zero
// disables the background sweeper. Default: 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
		}
		o.sweepInterval = d
		return nil
	}
}

// WithSweepErrorHandler installs a callback invoked when a sweep pass
// fails. The sweeper itself keeps its schedule and retries on the next
// tick; the callback exists so a collaborator can log the failure.
func WithSweepErrorHandler(fn func(error)) Option {
	return func(o *engineOptions) error {
		o.onSweepError = fn
		return nil
	}
}
