package floodgate

import (
	"math"
	"time"
)

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow      Algorithm = "fixed_window"
	AlgorithmTokenBucket      Algorithm = "token_bucket"
	AlgorithmLeakyBucket      Algorithm = "leaky_bucket"
	AlgorithmSlidingWindowLog Algorithm = "sliding_window_log"
)

// Limiter is the decision contract shared by all four algorithm engines.
// Implementations are safe for concurrent use; checks for different client
// keys proceed in parallel, checks for the same key are serialized.
type Limiter interface {
	// Check decides whether a request from the given client is admitted,
	// at the engine's default cost. Unknown clients are created lazily;
	// Check fails only on invalid input, never because a client is new.
	// A returned error is distinct from a deny decision: on error no
	// decision was computed and no state was mutated.
	Check(key string) (*Decision, error)

	// CheckN is Check with an explicit cost. Cost must be non-negative
	// and finite.
	CheckN(key string, cost float64) (*Decision, error)

	// Describe returns a read-only snapshot of the client's stored state,
	// or false if the client has no state. It never mutates state and
	// does not count as activity for eviction purposes.
	Describe(key string) (*StateSnapshot, bool)

	// Stats reports aggregate engine state for observability.
	Stats() Stats

	// Reset clears all client state, as if the engine were freshly built.
	Reset()

	// Stop halts the eviction sweeper. It is idempotent and does not
	// affect subsequent Check calls.
	Stop()

	// Algorithm returns the engine's algorithm tag.
	Algorithm() Algorithm
}

// Decision is the result of a single admission check. A fresh value is
// produced per call.
type Decision struct {
	// Allowed indicates whether the request was admitted
	Allowed bool

	// Limit is the configured capacity (max requests or bucket size)
	Limit int64

	// Remaining is the capacity left after this decision, never negative
	Remaining int64

	// ResetAt is when the consumed capacity fully replenishes
	ResetAt time.Time

	// RetryAfter is how long to wait before a request of the same cost
	// would be admitted. It is 0 when Allowed is true.
	RetryAfter time.Duration

	// Algorithm is the tag of the engine that produced this decision
	Algorithm Algorithm

	// Key is the client key that was checked
	Key string
}

// StateSnapshot is a read-only view of one client's stored state.
// Only the fields for the snapshot's Algorithm are populated.
type StateSnapshot struct {
	Algorithm Algorithm `json:"algorithm"`

	// LastSeen is the time of the client's most recent check
	LastSeen time.Time `json:"last_seen"`

	// Fixed window
	Count       int64     `json:"count,omitempty"`
	WindowStart time.Time `json:"window_start,omitempty"`

	// Token bucket
	Tokens     float64   `json:"tokens,omitempty"`
	LastRefill time.Time `json:"last_refill,omitempty"`

	// Leaky bucket
	Size     float64   `json:"size,omitempty"`
	LastLeak time.Time `json:"last_leak,omitempty"`

	// Sliding window log: the admission timestamps still inside the
	// trailing window as of the last check, plus derived statistics
	Timestamps []time.Time `json:"timestamps,omitempty"`
	LogSize    int         `json:"log_size,omitempty"`
	Oldest     time.Time   `json:"oldest,omitempty"`
	Newest     time.Time   `json:"newest,omitempty"`
}

// Stats reports aggregate engine state.
type Stats struct {
	Algorithm     Algorithm `json:"algorithm"`
	ActiveClients int       `json:"active_clients"`

	// Limit is the configured capacity or max requests
	Limit int64 `json:"limit"`

	// Window is the configured window (fixed window and sliding log)
	Window time.Duration `json:"window,omitempty"`

	// Rate is the configured refill or leak rate in units per second
	// (token and leaky bucket)
	Rate float64 `json:"rate,omitempty"`
}

// validCost reports whether a check cost is acceptable: zero or positive
// and finite. NaN compares false against everything, so the single
// comparison also rejects it.
func validCost(cost float64) bool {
	return cost >= 0 && !math.IsInf(cost, 1)
}

// elapsedSeconds returns the seconds between last and now, clamped at
// zero so a system clock moving backward never produces negative refill,
// leak or window arithmetic.
func elapsedSeconds(last, now time.Time) float64 {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
