package floodgate

import (
	"sync"
	"time"
)

// entry is one client's state record plus the bookkeeping the sweeper
// needs. The entry mutex serializes every read-modify-write for its key,
// including eviction, so two concurrent checks can never both spend the
// same unit of capacity.
type entry[S any] struct {
	mu       sync.Mutex
	state    S
	lastSeen time.Time
	gone     bool // set under mu once the entry has been removed from the map
}

// store owns the client-key to state mapping for a single engine.
// Structural operations (insert on first sight, delete on eviction) are
// guarded by the store lock; per-key state is guarded by the entry lock.
// No lock ever spans more than one key.
type store[S any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[S]
}

func newStore[S any]() *store[S] {
	return &store[S]{entries: make(map[string]*entry[S])}
}

// update runs fn against the state record for key, creating the record
// with initState on first sight. fn runs with the entry lock held and now
// is recorded as the entry's last access. If the sweeper removed the
// entry between lookup and lock, the lookup is retried.
func (s *store[S]) update(key string, now time.Time, initState func() S, fn func(state *S)) {
	for {
		s.mu.RLock()
		e, ok := s.entries[key]
		s.mu.RUnlock()

		if !ok {
			s.mu.Lock()
			// Double-check: another goroutine might have created it
			e, ok = s.entries[key]
			if !ok {
				e = &entry[S]{state: initState(), lastSeen: now}
				s.entries[key] = e
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		e.lastSeen = now
		fn(&e.state)
		e.mu.Unlock()
		return
	}
}

// view runs fn against the state for key without creating the record and
// without touching its last-access time. Returns false if the client has
// no state.
func (s *store[S]) view(key string, fn func(state *S, lastSeen time.Time)) bool {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return false
	}
	fn(&e.state, e.lastSeen)
	return true
}

// len returns the number of tracked clients.
func (s *store[S]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// clear drops all client state. In-flight updates holding an old entry
// observe the gone marker and re-create their record in the fresh map.
func (s *store[S]) clear() {
	s.mu.Lock()
	old := s.entries
	s.entries = make(map[string]*entry[S])
	s.mu.Unlock()

	for _, e := range old {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
	}
}

// sweep removes entries that have been idle since before now-idleFor and
// whose state evictable reports as fully decayed. Eligibility is
// re-evaluated under both locks, so a check running concurrently for the
// same key either completes before the delete or re-creates the record
// afterward; it never observes a half-evicted state. Returns the number
// of entries removed.
func (s *store[S]) sweep(now time.Time, idleFor time.Duration, evictable func(state *S, now time.Time) bool) int {
	if idleFor <= 0 {
		return 0
	}
	cutoff := now.Add(-idleFor)

	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	removed := 0
	for _, k := range keys {
		s.mu.Lock()
		e, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		e.mu.Lock()
		if e.lastSeen.Before(cutoff) && evictable(&e.state, now) {
			delete(s.entries, k)
			e.gone = true
			removed++
		}
		e.mu.Unlock()
		s.mu.Unlock()
	}
	return removed
}
