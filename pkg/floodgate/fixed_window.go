package floodgate

import (
	"fmt"
	"math"
	"time"
)

// fixedWindowState is one client's counter for the current window.
type fixedWindowState struct {
	count       int64
	windowStart time.Time
}

// FixedWindow admits up to maxRequests per client within fixed,
// grid-aligned windows of the configured duration. The counter resets
// lazily on the first check that lands in a newer window; the sweeper
// only evicts idle clients, it never resets counts.
//
// Fixed windows have a known boundary weakness: a client that fills the
// tail of one window and the head of the next can push through up to
// 2x maxRequests in a span shorter than one window. That trade-off is
// what makes the algorithm O(1); use SlidingWindowLog when the exact
// bound matters.
type FixedWindow struct {
	maxRequests int64
	window      time.Duration
	opts        engineOptions
	store       *store[fixedWindowState]
	sweeper     *sweeper
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a fixed window engine allowing maxRequests per
// window per client.
func NewFixedWindow(maxRequests int64, window time.Duration, opts ...Option) (*FixedWindow, error) {
	if maxRequests <= 0 {
		return nil, fmt.Errorf("%w: max requests %d", ErrInvalidCapacity, maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWindow, window)
	}
	o, err := buildEngineOptions(opts)
	if err != nil {
		return nil, err
	}

	fw := &FixedWindow{
		maxRequests: maxRequests,
		window:      window,
		opts:        o,
		store:       newStore[fixedWindowState](),
	}
	fw.sweeper = newSweeper(o.sweepInterval, fw.sweepOnce, o.onSweepError)
	return fw, nil
}

// Algorithm returns AlgorithmFixedWindow.
func (fw *FixedWindow) Algorithm() Algorithm { return AlgorithmFixedWindow }

// Check decides admission for one request at the default cost.
func (fw *FixedWindow) Check(key string) (*Decision, error) {
	return fw.CheckN(key, fw.opts.defaultCost)
}

// CheckN decides admission for a request counting as ceil(cost) units
// against the window.
func (fw *FixedWindow) CheckN(key string, cost float64) (*Decision, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if !validCost(cost) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}
	n := int64(math.Ceil(cost))

	now := fw.opts.clock.Now()
	start := now.Truncate(fw.window)

	d := &Decision{
		Limit:     fw.maxRequests,
		Algorithm: AlgorithmFixedWindow,
		Key:       key,
	}

	fw.store.update(key, now,
		func() fixedWindowState {
			return fixedWindowState{windowStart: start}
		},
		func(st *fixedWindowState) {
			// Lazy transition into the newer window
			if start.After(st.windowStart) {
				st.windowStart = start
				st.count = 0
			}

			d.ResetAt = st.windowStart.Add(fw.window)
			if st.count+n <= fw.maxRequests {
				st.count += n
				d.Allowed = true
			} else {
				d.RetryAfter = d.ResetAt.Sub(now)
				if d.RetryAfter < 0 {
					d.RetryAfter = 0
				}
			}
			d.Remaining = fw.maxRequests - st.count
			if d.Remaining < 0 {
				d.Remaining = 0
			}
		})

	return d, nil
}

// Describe returns the client's stored counter without mutating it.
func (fw *FixedWindow) Describe(key string) (*StateSnapshot, bool) {
	var snap StateSnapshot
	ok := fw.store.view(key, func(st *fixedWindowState, lastSeen time.Time) {
		snap = StateSnapshot{
			Algorithm:   AlgorithmFixedWindow,
			LastSeen:    lastSeen,
			Count:       st.count,
			WindowStart: st.windowStart,
		}
	})
	if !ok {
		return nil, false
	}
	return &snap, true
}

// Stats reports the engine's aggregate state.
func (fw *FixedWindow) Stats() Stats {
	return Stats{
		Algorithm:     AlgorithmFixedWindow,
		ActiveClients: fw.store.len(),
		Limit:         fw.maxRequests,
		Window:        fw.window,
	}
}

// Reset clears all client state.
func (fw *FixedWindow) Reset() { fw.store.clear() }

// Stop halts the eviction sweeper. Idempotent.
func (fw *FixedWindow) Stop() { fw.sweeper.halt() }

func (fw *FixedWindow) sweepOnce() {
	now := fw.opts.clock.Now()
	fw.store.sweep(now, fw.opts.idleTimeout, func(st *fixedWindowState, now time.Time) bool {
		// An idle client's window has long expired; nothing worth keeping.
		return true
	})
}
