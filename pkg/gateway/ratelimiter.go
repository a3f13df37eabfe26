package gateway

import (
	"sync"
	"time"
)

// RateLimit bounds the requests a single WebSocket client may issue
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// DefaultRateLimit allows 60 requests a minute and 10 in flight
func DefaultRateLimit() RateLimit {
	return RateLimit{RequestsPerMinute: 60, MaxConcurrent: 10}
}

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	limit              RateLimit
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a limiter; zero fields take the defaults
func NewClientRateLimiter(limit RateLimit) *ClientRateLimiter {
	defaults := DefaultRateLimit()
	if limit.RequestsPerMinute <= 0 {
		limit.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if limit.MaxConcurrent <= 0 {
		limit.MaxConcurrent = defaults.MaxConcurrent
	}

	return &ClientRateLimiter{
		limit: limit,
		now:   time.Now,
	}
}

// Acquire admits one request and counts it in flight. The returned error
// carries RateLimitExceeded or TooManyConcurrent.
func (r *ClientRateLimiter) Acquire() *RPCError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.limit.MaxConcurrent {
		return &RPCError{Code: TooManyConcurrent, Message: "too many concurrent requests"}
	}

	now := r.now()
	r.pruneLocked(now)
	if len(r.requests) >= r.limit.RequestsPerMinute {
		return &RPCError{Code: RateLimitExceeded, Message: "rate limit exceeded"}
	}

	r.requests = append(r.requests, now)
	r.concurrentRequests++
	return nil
}

// Release ends a request admitted by Acquire
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// UpdateLimits updates the rate limits
func (r *ClientRateLimiter) UpdateLimits(limit RateLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limit = limit
}

// GetStats returns the requests in the current window and those in flight
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(r.now())
	return len(r.requests), r.concurrentRequests
}

func (r *ClientRateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.requests[:0]
	for _, at := range r.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	r.requests = kept
}
