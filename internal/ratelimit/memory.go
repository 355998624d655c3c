package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. All access goes through one
// mutex so concurrent requests for the same key are never undercounted.
// Expired windows are dropped lazily when the store is touched, at most once
// per sweep interval.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string]*window
	now        func() time.Time
	nextSweep  time.Time
	sweepEvery time.Duration
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:    make(map[string]*window),
		now:        time.Now,
		sweepEvery: defaultSweepInterval,
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Incr(_ context.Context, key string, d time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(d)}
		s.windows[key] = w
		return w.count, w.resetAt, nil
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len reports how many windows are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// sweep must be called with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
	s.nextSweep = now.Add(s.sweepEvery)
}
