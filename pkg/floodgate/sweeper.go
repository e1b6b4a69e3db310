package floodgate

import (
	"fmt"
	"sync"
	"time"
)

// sweeper periodically runs one engine's eviction pass on its own
// goroutine, asynchronous to request handling.
type sweeper struct {
	interval time.Duration
	run      func()
	onError  func(error)
	done     chan struct{}
	stop     sync.Once
}

func newSweeper(interval time.Duration, run func(), onError func(error)) *sweeper {
	sw := &sweeper{
		interval: interval,
		run:      run,
		onError:  onError,
		done:     make(chan struct{}),
	}
	if interval > 0 {
		go sw.loop()
	}
	return sw
}

func (sw *sweeper) loop() {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.runOnce()
		case <-sw.done:
			return
		}
	}
}

// runOnce shields the schedule from a failing pass: a sweep that panics
// is reported to the error handler and retried on the next tick. A sweep
// is idempotent, so nothing needs rolling back.
func (sw *sweeper) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			if sw.onError != nil {
				sw.onError(fmt.Errorf("sweep failed: %v", r))
			}
		}
	}()
	sw.run()
}

// halt stops scheduling future sweeps without waiting on an in-flight
// pass. Safe to call more than once.
func (sw *sweeper) halt() {
	sw.stop.Do(func() { close(sw.done) })
}
