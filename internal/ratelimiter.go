package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by client IP, used to guard
// the websocket upgrade endpoint against connect storms.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records a hit for the key and reports whether it stays within the
// window limit.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.pruneKeyLocked(key, now)
	if len(live) >= r.limit {
		return false
	}
	r.hits[key] = append(live, now)
	return true
}

// pruneKeyLocked drops hits for key that have aged out of the window and
// returns what is left. An emptied key is removed from the map entirely.
func (r *RateLimiter) pruneKeyLocked(key string, now time.Time) []time.Time {
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	if idx == 0 {
		delete(r.hits, key)
		return nil
	}
	slice = slice[:idx]
	r.hits[key] = slice
	return slice
}

// Prune discards every key whose hits have all aged out of the window, so
// one-off clients do not accumulate in the map forever.
func (r *RateLimiter) Prune() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.hits {
		r.pruneKeyLocked(key, now)
	}
}
