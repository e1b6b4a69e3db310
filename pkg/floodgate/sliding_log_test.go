package floodgate

import (
	"errors"
	"testing"
	"time"
)

func newTestSlidingLog(t *testing.T, maxRequests int64, window time.Duration) (*SlidingWindowLog, *ManualClock) {
	t.Helper()
	clock := NewManualClock(testStart)
	sl, err := NewSlidingWindowLog(maxRequests, window, WithClock(clock), WithSweepInterval(0))
	if err != nil {
		t.Fatalf("NewSlidingWindowLog() failed: %v", err)
	}
	t.Cleanup(sl.Stop)
	return sl, clock
}

func TestNewSlidingWindowLog(t *testing.T) {
	tests := []struct {
		name        string
		maxRequests int64
		window      time.Duration
		expectedErr error
	}{
		{name: "valid", maxRequests: 5, window: time.Second},
		{name: "zero max requests", maxRequests: 0, window: time.Second, expectedErr: ErrInvalidCapacity},
		{name: "zero window", maxRequests: 5, window: 0, expectedErr: ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl, err := NewSlidingWindowLog(tt.maxRequests, tt.window, WithSweepInterval(0))
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("NewSlidingWindowLog() error = %v, want %v", err, tt.expectedErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSlidingWindowLog() unexpected error: %v", err)
			}
			sl.Stop()
		})
	}
}

func TestSlidingWindowLog_WindowSlides(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 5, time.Second)

	// Five calls fill the log
	for i := 0; i < 5; i++ {
		d, err := sl.Check("client-1")
		if err != nil {
			t.Fatalf("Check() failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	// 100ms later the window still holds all five: denied
	clock.Advance(100 * time.Millisecond)
	d, _ := sl.Check("client-1")
	if d.Allowed {
		t.Fatal("sixth call inside the window should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}

	// Another full second ages every entry out: allowed with remaining 4
	clock.Advance(time.Second)
	d, _ = sl.Check("client-1")
	if !d.Allowed {
		t.Fatal("call after the log aged out should be allowed")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4", d.Remaining)
	}
}

func TestSlidingWindowLog_NoBoundaryOvershoot(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 5, time.Second)

	// The fixed-window attack: fill just before an artificial boundary,
	// then fire again just after it.
	var admissions []time.Time
	fire := func(n int) {
		for i := 0; i < n; i++ {
			if d, _ := sl.Check("client-1"); d.Allowed {
				admissions = append(admissions, clock.Now())
			}
		}
	}

	clock.Set(testStart.Add(900 * time.Millisecond))
	fire(5)
	clock.Set(testStart.Add(1100 * time.Millisecond))
	fire(5)

	// At most maxRequests admitted in ANY trailing window, including ones
	// straddling the boundary.
	for _, end := range admissions {
		count := 0
		for _, ts := range admissions {
			if ts.After(end.Add(-time.Second)) && !ts.After(end) {
				count++
			}
		}
		if count > 5 {
			t.Fatalf("trailing window ending %v holds %d admissions, want <= 5", end, count)
		}
	}
	if len(admissions) != 5 {
		t.Errorf("total admitted = %d, want 5", len(admissions))
	}
}

func TestSlidingWindowLog_ResetAtTracksOldest(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 5, time.Second)

	sl.Check("client-1")
	clock.Advance(300 * time.Millisecond)
	d, _ := sl.Check("client-1")

	// ResetAt derives from the oldest surviving timestamp, not a grid
	if want := testStart.Add(time.Second); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v (oldest + window)", d.ResetAt, want)
	}

	// Once the oldest ages out, ResetAt moves with the new oldest
	clock.Advance(800 * time.Millisecond)
	d, _ = sl.Check("client-1")
	if want := testStart.Add(300*time.Millisecond + time.Second); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestSlidingWindowLog_RetryAfter(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 2, time.Second)

	sl.Check("client-1")
	clock.Advance(400 * time.Millisecond)
	sl.Check("client-1")

	// Denied: retry once the oldest entry (at testStart) leaves the window
	clock.Advance(100 * time.Millisecond)
	d, _ := sl.Check("client-1")
	if d.Allowed {
		t.Fatal("third call should be denied")
	}
	if want := 500 * time.Millisecond; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
}

func TestSlidingWindowLog_Describe(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 5, time.Second)

	sl.Check("client-1")
	clock.Advance(200 * time.Millisecond)
	sl.Check("client-1")
	clock.Advance(200 * time.Millisecond)
	sl.Check("client-1")

	snap, ok := sl.Describe("client-1")
	if !ok {
		t.Fatal("Describe() should find the client")
	}
	if snap.LogSize != 3 || len(snap.Timestamps) != 3 {
		t.Fatalf("LogSize = %d, Timestamps = %d, want 3/3", snap.LogSize, len(snap.Timestamps))
	}
	if !snap.Oldest.Equal(testStart) {
		t.Errorf("Oldest = %v, want %v", snap.Oldest, testStart)
	}
	if want := testStart.Add(400 * time.Millisecond); !snap.Newest.Equal(want) {
		t.Errorf("Newest = %v, want %v", snap.Newest, want)
	}
	for i := 1; i < len(snap.Timestamps); i++ {
		if snap.Timestamps[i].Before(snap.Timestamps[i-1]) {
			t.Error("timestamps must be non-decreasing")
		}
	}

	// The snapshot is a copy: mutating it must not affect the engine
	snap.Timestamps[0] = snap.Timestamps[0].Add(time.Hour)
	again, _ := sl.Describe("client-1")
	if !again.Oldest.Equal(testStart) {
		t.Error("Describe() must return a copy of the log")
	}
}

func TestSlidingWindowLog_CompactionBoundsMemory(t *testing.T) {
	sl, clock := newTestSlidingLog(t, 100, time.Second)

	// Spread admissions over many windows; the log never holds more than
	// one window's worth.
	for i := 0; i < 50; i++ {
		sl.Check("client-1")
		clock.Advance(100 * time.Millisecond)
	}
	snap, _ := sl.Describe("client-1")
	if snap.LogSize > 10 {
		t.Errorf("LogSize = %d, want <= 10 (one window at 10/s)", snap.LogSize)
	}
}

func TestSlidingWindowLog_CostLargerThanLimit(t *testing.T) {
	sl, _ := newTestSlidingLog(t, 5, time.Second)

	// A cost that can never fit is denied, not an error
	d, err := sl.CheckN("client-1", 6)
	if err != nil {
		t.Fatalf("CheckN() failed: %v", err)
	}
	if d.Allowed {
		t.Error("cost above the limit should be denied")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want window", d.RetryAfter)
	}
}

func TestSlidingWindowLog_Eviction(t *testing.T) {
	clock := NewManualClock(testStart)
	sl, err := NewSlidingWindowLog(5, time.Second,
		WithClock(clock), WithSweepInterval(0), WithIdleTimeout(time.Minute))
	if err != nil {
		t.Fatalf("NewSlidingWindowLog() failed: %v", err)
	}
	defer sl.Stop()

	sl.Check("client-1")

	// Idle, and every log entry aged out: evictable
	clock.Advance(2 * time.Minute)
	sl.sweepOnce()
	if _, ok := sl.Describe("client-1"); ok {
		t.Error("aged-out idle log should be evicted")
	}
}

func TestSlidingWindowLog_ResetIdempotent(t *testing.T) {
	sl, _ := newTestSlidingLog(t, 2, time.Second)

	sl.Check("client-1")
	sl.Check("client-1")
	sl.Check("client-1") // denied

	sl.Reset()
	d, _ := sl.Check("client-1")
	if !d.Allowed || d.Remaining != 1 {
		t.Errorf("after Reset: Allowed=%v Remaining=%d, want true/1", d.Allowed, d.Remaining)
	}
}
