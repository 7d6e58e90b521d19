// Package ratelimit throttles inbound frames per identity with a windowed
// counter kept in a swappable CounterStore.
//
// The default MemoryStore is local to one process: with several broker
// instances each enforces the limit on its own share of the traffic. Use a
// shared store such as the mongodb one when the limit must hold globally.
package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one counter after an increment.
type Window struct {
	Count   int64
	ResetAt time.Time
}

type CounterStore interface {
	// Increment counts one hit for key, opening a new window of the given
	// length when none is open.
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
}

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	store  CounterStore
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewLimiter(store CounterStore, limit int64, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	window, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}

	if window.Count <= l.limit {
		return Decision{
			Allowed:   true,
			Remaining: l.limit - window.Count,
		}, nil
	}

	retryAfter := window.ResetAt.Sub(l.now())
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter,
	}, nil
}
