package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	mu      sync.Mutex
	enabled bool
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per client
func NewRateLimiter(enabled bool, rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		enabled: enabled,
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from client may proceed
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return true
	}

	c, ok := r.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// Update changes the limits for new and existing clients
func (r *RateLimiter) Update(enabled bool, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = enabled
	r.limit = rate.Limit(rps)
	r.burst = burst
	for _, c := range r.clients {
		c.limiter.SetLimit(r.limit)
		c.limiter.SetBurst(burst)
	}
}

// Cleanup removes clients idle for longer than maxIdle
func (r *RateLimiter) Cleanup(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for client, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, client)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done
func (r *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Cleanup(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}
