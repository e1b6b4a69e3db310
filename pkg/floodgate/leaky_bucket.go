package floodgate

import (
	"fmt"
	"math"
	"time"
)

// leakyBucketState is one client's bucket: occupied capacity and the last
// time it drained.
type leakyBucketState struct {
	size     float64
	lastLeak time.Time
}

// LeakyBucket is the inverse of TokenBucket: size tracks occupied
// capacity, draining toward zero at leakRate per second, and each
// admission adds its cost. New clients start with an empty bucket, so
// unlike TokenBucket there is no accumulated credit; an idle client gets
// no burst allowance beyond the raw capacity.
type LeakyBucket struct {
	capacity int64
	leakRate float64 // units drained per second
	opts     engineOptions
	store    *store[leakyBucketState]
	sweeper  *sweeper
}

var _ Limiter = (*LeakyBucket)(nil)

// NewLeakyBucket creates a leaky bucket engine.
func NewLeakyBucket(capacity int64, leakRate float64, opts ...Option) (*LeakyBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidCapacity, capacity)
	}
	if leakRate <= 0 || math.IsInf(leakRate, 1) || math.IsNaN(leakRate) {
		return nil, fmt.Errorf("%w: leak rate %v", ErrInvalidRate, leakRate)
	}
	o, err := buildEngineOptions(opts)
	if err != nil {
		return nil, err
	}

	lb := &LeakyBucket{
		capacity: capacity,
		leakRate: leakRate,
		opts:     o,
		store:    newStore[leakyBucketState](),
	}
	lb.sweeper = newSweeper(o.sweepInterval, lb.sweepOnce, o.onSweepError)
	return lb, nil
}

// Algorithm returns AlgorithmLeakyBucket.
func (lb *LeakyBucket) Algorithm() Algorithm { return AlgorithmLeakyBucket }

// Check decides admission for one request at the default cost.
func (lb *LeakyBucket) Check(key string) (*Decision, error) {
	return lb.CheckN(key, lb.opts.defaultCost)
}

// CheckN decides admission for a request occupying cost units.
func (lb *LeakyBucket) CheckN(key string, cost float64) (*Decision, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if !validCost(cost) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}

	now := lb.opts.clock.Now()
	cap := float64(lb.capacity)

	d := &Decision{
		Limit:     lb.capacity,
		Algorithm: AlgorithmLeakyBucket,
		Key:       key,
	}

	lb.store.update(key, now,
		func() leakyBucketState {
			// First sight: empty bucket
			return leakyBucketState{lastLeak: now}
		},
		func(st *leakyBucketState) {
			// Leak first, even on a call that will be denied
			elapsed := elapsedSeconds(st.lastLeak, now)
			st.size = math.Max(0, st.size-elapsed*lb.leakRate)
			st.lastLeak = now

			free := cap - st.size
			if free >= cost {
				st.size += cost
				d.Allowed = true
			} else {
				needed := cost - free
				d.RetryAfter = time.Duration(needed / lb.leakRate * float64(time.Second))
			}

			d.Remaining = int64(cap - st.size)
			d.ResetAt = now.Add(time.Duration(st.size / lb.leakRate * float64(time.Second)))
		})

	return d, nil
}

// Describe returns the client's stored bucket without mutating it. Size
// is as of the client's last check; project forward with LastLeak if the
// current level is needed.
func (lb *LeakyBucket) Describe(key string) (*StateSnapshot, bool) {
	var snap StateSnapshot
	ok := lb.store.view(key, func(st *leakyBucketState, lastSeen time.Time) {
		snap = StateSnapshot{
			Algorithm: AlgorithmLeakyBucket,
			LastSeen:  lastSeen,
			Size:      st.size,
			LastLeak:  st.lastLeak,
		}
	})
	if !ok {
		return nil, false
	}
	return &snap, true
}

// Stats reports the engine's aggregate state.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Algorithm:     AlgorithmLeakyBucket,
		ActiveClients: lb.store.len(),
		Limit:         lb.capacity,
		Rate:          lb.leakRate,
	}
}

// Reset clears all client state.
func (lb *LeakyBucket) Reset() { lb.store.clear() }

// Stop halts the eviction sweeper. Idempotent.
func (lb *LeakyBucket) Stop() { lb.sweeper.halt() }

func (lb *LeakyBucket) sweepOnce() {
	now := lb.opts.clock.Now()
	lb.store.sweep(now, lb.opts.idleTimeout, func(st *leakyBucketState, now time.Time) bool {
		// A fully drained bucket is indistinguishable from a fresh one.
		elapsed := elapsedSeconds(st.lastLeak, now)
		return st.size-elapsed*lb.leakRate <= 0
	})
}
