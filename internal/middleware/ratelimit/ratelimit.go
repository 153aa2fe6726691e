// Package ratelimit guards the solve endpoint against bursts from a single
// account. It is a short-window complement to the daily quota, which is
// enforced separately against the account store.
package ratelimit

import (
	"sync"
	"time"
)

type userCounter struct {
	count     int
	lastReset time.Time
}

type RateLimiter struct {
	limit    int
	window   time.Duration
	counters map[string]*userCounter
	mu       sync.Mutex
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string]*userCounter),
	}

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

// IsAllowed reports whether the account may make one more request in the
// current window, counting the attempt.
func (rl *RateLimiter) IsAllowed(email string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	counter, exists := rl.counters[email]

	if !exists {
		rl.counters[email] = &userCounter{
			count:     1,
			lastReset: now,
		}
		return true
	}

	if now.Sub(counter.lastReset) >= rl.window {
		counter.count = 1
		counter.lastReset = now
		return true
	}

	if counter.count >= rl.limit {
		return false
	}

	counter.count++
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for email, counter := range rl.counters {
		if now.Sub(counter.lastReset) >= rl.window {
			delete(rl.counters, email)
		}
	}
}
