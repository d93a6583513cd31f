package httpapi

import (
	"sync"
	"time"
)

// RateLimit allows Requests per sliding Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter tracks request times per client with a sliding window.
type RateLimiter struct {
	limit RateLimit
	now   func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time
}

// NewRateLimiter creates a limiter for limit.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		now:     time.Now,
		clients: make(map[string][]time.Time),
	}
}

// Allow records a request from client and reports whether it fits the
// window. Rejected requests are not recorded.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(client, now)
	if len(recent) >= rl.limit.Requests {
		return false
	}
	rl.clients[client] = append(recent, now)
	return true
}

// Remaining returns how many more requests client may make now.
func (rl *RateLimiter) Remaining(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return max(rl.limit.Requests-len(rl.prune(client, rl.now())), 0)
}

// ResetTime returns when the oldest request in client's window expires.
func (rl *RateLimiter) ResetTime(client string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(client, now)
	if len(recent) == 0 {
		return now
	}
	return recent[0].Add(rl.limit.Window)
}

// prune drops requests older than the window, and forgets idle clients.
// Times are appended in order, so the expired ones form a prefix.
func (rl *RateLimiter) prune(client string, now time.Time) []time.Time {
	times := rl.clients[client]
	cutoff := now.Add(-rl.limit.Window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]
	if len(times) == 0 {
		delete(rl.clients, client)
		return nil
	}
	rl.clients[client] = times
	return times
}

// Clients returns the number of clients currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
