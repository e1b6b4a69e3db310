package floodgate

import (
	"fmt"
	"math"
	"time"
)

// slidingLogState is one client's ordered record of admission timestamps.
// The sequence is non-decreasing and every element was inside the
// trailing window when it was appended.
type slidingLogState struct {
	timestamps []time.Time
}

// SlidingWindowLog keeps an exact per-client log of admission timestamps
// and admits a request only when fewer than maxRequests admissions remain
// inside the trailing window. The limit slides continuously, so it has
// none of FixedWindow's boundary overshoot, at the cost of O(window
// population) time and space per check.
type SlidingWindowLog struct {
	maxRequests int64
	window      time.Duration
	opts        engineOptions
	store       *store[slidingLogState]
	sweeper     *sweeper
}

var _ Limiter = (*SlidingWindowLog)(nil)

// NewSlidingWindowLog creates a sliding window log engine allowing
// maxRequests per trailing window per client.
func NewSlidingWindowLog(maxRequests int64, window time.Duration, opts ...Option) (*SlidingWindowLog, error) {
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

	sl := &SlidingWindowLog{
		maxRequests: maxRequests,
		window:      window,
		opts:        o,
		store:       newStore[slidingLogState](),
	}
	sl.sweeper = newSweeper(o.sweepInterval, sl.sweepOnce, o.onSweepError)
	return sl, nil
}

// Algorithm returns AlgorithmSlidingWindowLog.
func (sl *SlidingWindowLog) Algorithm() Algorithm { return AlgorithmSlidingWindowLog }

// Check decides admission for one request at the default cost.
func (sl *SlidingWindowLog) Check(key string) (*Decision, error) {
	return sl.CheckN(key, sl.opts.defaultCost)
}

// CheckN decides admission for a request counting as ceil(cost) log
// entries. Remaining always reflects the log length after the call, on
// both the admitted and the denied branch.
func (sl *SlidingWindowLog) CheckN(key string, cost float64) (*Decision, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if !validCost(cost) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}
	n := int64(math.Ceil(cost))

	now := sl.opts.clock.Now()
	cutoff := now.Add(-sl.window)

	d := &Decision{
		Limit:     sl.maxRequests,
		Algorithm: AlgorithmSlidingWindowLog,
		Key:       key,
	}

	sl.store.update(key, now,
		func() slidingLogState { return slidingLogState{} },
		func(st *slidingLogState) {
			st.timestamps = compactLog(st.timestamps, cutoff)
			live := int64(len(st.timestamps))

			if live+n <= sl.maxRequests {
				for i := int64(0); i < n; i++ {
					st.timestamps = append(st.timestamps, now)
				}
				d.Allowed = true
			} else {
				// Retry once enough of the log has aged out to fit the
				// request: the (live+n-maxRequests)-th oldest entry must
				// leave the window.
				idx := live + n - sl.maxRequests - 1
				if idx >= 0 && idx < live {
					d.RetryAfter = st.timestamps[idx].Add(sl.window).Sub(now)
				} else {
					d.RetryAfter = sl.window
				}
				if d.RetryAfter < 0 {
					d.RetryAfter = 0
				}
			}

			d.Remaining = sl.maxRequests - int64(len(st.timestamps))
			if d.Remaining < 0 {
				d.Remaining = 0
			}
			if len(st.timestamps) > 0 {
				d.ResetAt = st.timestamps[0].Add(sl.window)
			} else {
				d.ResetAt = now
			}
		})

	return d, nil
}

// Describe returns a copy of the client's timestamp log plus derived
// statistics, without mutating or compacting the stored log.
func (sl *SlidingWindowLog) Describe(key string) (*StateSnapshot, bool) {
	var snap StateSnapshot
	ok := sl.store.view(key, func(st *slidingLogState, lastSeen time.Time) {
		ts := make([]time.Time, len(st.timestamps))
		copy(ts, st.timestamps)
		snap = StateSnapshot{
			Algorithm:  AlgorithmSlidingWindowLog,
			LastSeen:   lastSeen,
			Timestamps: ts,
			LogSize:    len(ts),
		}
		if len(ts) > 0 {
			snap.Oldest = ts[0]
			snap.Newest = ts[len(ts)-1]
		}
	})
	if !ok {
		return nil, false
	}
	return &snap, true
}

// Stats reports the engine's aggregate state.
func (sl *SlidingWindowLog) Stats() Stats {
	return Stats{
		Algorithm:     AlgorithmSlidingWindowLog,
		ActiveClients: sl.store.len(),
		Limit:         sl.maxRequests,
		Window:        sl.window,
	}
}

// Reset clears all client state.
func (sl *SlidingWindowLog) Reset() { sl.store.clear() }

// Stop halts the eviction sweeper. Idempotent.
func (sl *SlidingWindowLog) Stop() { sl.sweeper.halt() }

func (sl *SlidingWindowLog) sweepOnce() {
	now := sl.opts.clock.Now()
	cutoff := now.Add(-sl.window)
	sl.store.sweep(now, sl.opts.idleTimeout, func(st *slidingLogState, now time.Time) bool {
		// Evictable once every entry has aged out of the window.
		ts := st.timestamps
		return len(ts) == 0 || !ts[len(ts)-1].After(cutoff)
	})
}

// compactLog drops every timestamp at or before cutoff, shifting the
// survivors in place to keep the backing array.
func compactLog(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
