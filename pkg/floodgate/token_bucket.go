package floodgate

import (
	"fmt"
	"math"
	"time"
)

// tokenBucketState is one client's bucket: available tokens and the last
// time they were refilled.
type tokenBucketState struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucket accrues tokens at refillRate per second up to capacity and
// spends them on admissions. New clients start with a full bucket, so an
// idle or first-seen client gets an initial burst allowance of the whole
// capacity.
type TokenBucket struct {
	capacity   int64
	refillRate float64 // tokens per second
	opts       engineOptions
	store      *store[tokenBucketState]
	sweeper    *sweeper
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket creates a token bucket engine.
//
// Example: NewTokenBucket(100, 10.0) allows bursts up to 100 requests and
// a sustained rate of 10 requests/second.
func NewTokenBucket(capacity int64, refillRate float64, opts ...Option) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidCapacity, capacity)
	}
	if refillRate <= 0 || math.IsInf(refillRate, 1) || math.IsNaN(refillRate) {
		return nil, fmt.Errorf("%w: refill rate %v", ErrInvalidRate, refillRate)
	}
	o, err := buildEngineOptions(opts)
	if err != nil {
		return nil, err
	}

	tb := &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		opts:       o,
		store:      newStore[tokenBucketState](),
	}
	tb.sweeper = newSweeper(o.sweepInterval, tb.sweepOnce, o.onSweepError)
	return tb, nil
}

// Algorithm returns AlgorithmTokenBucket.
func (tb *TokenBucket) Algorithm() Algorithm { return AlgorithmTokenBucket }

// Check decides admission for one request at the default cost.
func (tb *TokenBucket) Check(key string) (*Decision, error) {
	return tb.CheckN(key, tb.opts.defaultCost)
}

// CheckN decides admission for a request consuming cost tokens.
func (tb *TokenBucket) CheckN(key string, cost float64) (*Decision, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if !validCost(cost) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}

	now := tb.opts.clock.Now()
	cap := float64(tb.capacity)

	d := &Decision{
		Limit:     tb.capacity,
		Algorithm: AlgorithmTokenBucket,
		Key:       key,
	}

	tb.store.update(key, now,
		func() tokenBucketState {
			// First sight: full bucket
			return tokenBucketState{tokens: cap, lastRefill: now}
		},
		func(st *tokenBucketState) {
			// Refill first, even on a call that will be denied
			elapsed := elapsedSeconds(st.lastRefill, now)
			st.tokens = math.Min(cap, st.tokens+elapsed*tb.refillRate)
			st.lastRefill = now

			if st.tokens >= cost {
				st.tokens -= cost
				d.Allowed = true
			} else {
				needed := cost - st.tokens
				d.RetryAfter = time.Duration(needed / tb.refillRate * float64(time.Second))
			}

			d.Remaining = int64(st.tokens)
			d.ResetAt = now.Add(time.Duration((cap - st.tokens) / tb.refillRate * float64(time.Second)))
		})

	return d, nil
}

// Describe returns the client's stored bucket without mutating it. Tokens
// are as of the client's last check; project forward with LastRefill if
// the current balance is needed.
func (tb *TokenBucket) Describe(key string) (*StateSnapshot, bool) {
	var snap StateSnapshot
	ok := tb.store.view(key, func(st *tokenBucketState, lastSeen time.Time) {
		snap = StateSnapshot{
			Algorithm:  AlgorithmTokenBucket,
			LastSeen:   lastSeen,
			Tokens:     st.tokens,
			LastRefill: st.lastRefill,
		}
	})
	if !ok {
		return nil, false
	}
	return &snap, true
}

// Stats reports the engine's aggregate state.
func (tb *TokenBucket) Stats() Stats {
	return Stats{
		Algorithm:     AlgorithmTokenBucket,
		ActiveClients: tb.store.len(),
		Limit:         tb.capacity,
		Rate:          tb.refillRate,
	}
}

// Reset clears all client state.
func (tb *TokenBucket) Reset() { tb.store.clear() }

// Stop halts the eviction sweeper. Idempotent.
func (tb *TokenBucket) Stop() { tb.sweeper.halt() }

func (tb *TokenBucket) sweepOnce() {
	now := tb.opts.clock.Now()
	cap := float64(tb.capacity)
	tb.store.sweep(now, tb.opts.idleTimeout, func(st *tokenBucketState, now time.Time) bool {
		// Evict only once the bucket would have refilled completely, so
		// re-creation with a full bucket changes nothing observable.
		elapsed := elapsedSeconds(st.lastRefill, now)
		return st.tokens+elapsed*tb.refillRate >= cap
	})
}
