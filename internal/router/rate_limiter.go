package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection fixed-window rate limiting
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*connWindow
}

type connWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit messages per window for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*connWindow),
	}
}

// Allow reports whether key may send another message in the current window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, ok := rl.clients[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[key] = &connWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops state for a key whose connection has gone away.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.clients, key)
	rl.mu.Unlock()
}

// Tracked returns how many keys currently hold state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
