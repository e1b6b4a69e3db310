// Package floodgate provides in-process admission control for Go services.
//
// Given a client key and a request cost, an engine decides ALLOW or DENY
// under its configured policy and reports how much capacity remains and
// when it replenishes. Four interchangeable algorithms implement the same
// Limiter contract, each with independent per-client state:
//
//   - FixedWindow: counts requests in grid-aligned windows. O(1) and
//     cheap, but adjacent windows can admit up to twice the limit across
//     a window edge (the boundary problem).
//   - TokenBucket: tokens accrue at a steady rate up to capacity; new
//     clients start with a full bucket, so bursts up to capacity are
//     allowed immediately.
//   - LeakyBucket: occupied capacity drains at a steady rate; new clients
//     start empty, so idle time earns no burst credit.
//   - SlidingWindowLog: an exact per-client log of admission timestamps.
//     No boundary problem, at O(window population) cost per check.
//
// # Quick Start
//
//	limiter, err := floodgate.NewTokenBucket(100, 10.0) // 100 burst, 10/sec
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Stop()
//
//	decision, err := limiter.Check("user-123")
//	if err != nil {
//	    // invalid input, not a deny: choose your own fail-open policy
//	}
//	if !decision.Allowed {
//	    fmt.Printf("rate limited, retry after %v\n", decision.RetryAfter)
//	}
//
// # Decisions vs errors
//
// Check never blocks and never fails because a client is unknown; state
// is created lazily on first sight. A non-nil error means no decision was
// computed (empty key, negative or non-finite cost) and no state was
// mutated. Whether to fail open or closed on error is the caller's
// choice; the middleware package makes it configurable.
//
// # Configuration
//
// Engines are built directly or from YAML:
//
//	default:
//	  algorithm: token_bucket
//	  capacity: 100
//	  refill_rate: 10.0
//	routes:
//	  "/api/login":
//	    algorithm: sliding_window_log
//	    max_requests: 5
//	    window: 1m
//	key_extractor: "ip"
//
// # Memory
//
// The number of distinct clients is unbounded, so each engine runs a
// background sweeper that evicts state idle beyond a threshold once its
// quantity has decayed to the boundary value (bucket drained or refilled,
// log fully aged out). Stop halts the sweeper; Reset clears all state.
//
// # Concurrency
//
// Checks for the same key are serialized by a per-key mutex, so two
// simultaneous requests can never both spend the last unit of capacity.
// Different keys do not contend. The sweeper acquires the same per-key
// exclusion before deleting a record.
//
// # Time
//
// All engines read time through the Clock interface. Production code uses
// the system clock; tests inject a ManualClock and advance it explicitly.
// Elapsed time is clamped at zero, so a system clock stepping backward
// never produces negative refill or leak.
package floodgate
