// Copyright 2025 Joseph Cumines
//
// Token bucket rate limiter for HTTP transport

package transport

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at rate tokens per second, holding at
// most twice that many. A nil *RateLimiter allows everything.
type RateLimiter struct {
	clock      func() time.Time
	lastUpdate time.Time
	rate       float64
	burst      float64
	tokens     float64
	mu         sync.Mutex
}

// NewRateLimiter returns nil when requestsPerSecond is not positive. A nil clock
// uses time.Now.
func NewRateLimiter(requestsPerSecond float64, clock func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	burst := max(requestsPerSecond*2, 1)
	return &RateLimiter{
		rate:       requestsPerSecond,
		burst:      burst,
		tokens:     burst,
		lastUpdate: clock(),
		clock:      clock,
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.tokens = min(r.burst, r.tokens+now.Sub(r.lastUpdate).Seconds()*r.rate)
	r.lastUpdate = now

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// Tokens returns the available tokens, or -1 for a nil limiter.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// RateLimitMiddleware rejects requests with 429 once limiter runs dry. The
// /health and /metrics endpoints are exempt.
func RateLimitMiddleware(limiter *RateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/metrics":
		default:
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
