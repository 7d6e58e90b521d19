package ratelimit

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Window
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]Window),
		now:      time.Now,
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	counter, ok := s.counters[key]
	if !ok || !now.Before(counter.ResetAt) {
		counter = Window{ResetAt: now.Add(window)}
	}

	counter.Count++
	s.counters[key] = counter

	return counter, nil
}

// Prune drops closed windows and returns how many were removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	pruned := 0
	for key, counter := range s.counters {
		if !now.Before(counter.ResetAt) {
			delete(s.counters, key)
			pruned++
		}
	}

	return pruned
}
