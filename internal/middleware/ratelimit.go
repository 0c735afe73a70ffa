package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// RateLimiter is a sliding window limiter keyed by caller. Job submissions
// are limited per organization so one tenant cannot flood the worker pool.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // Maximum requests per window
	window   time.Duration // Time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// prune drops timestamps outside the window. Callers hold mu.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	times := rl.requests[key]
	valid := times[:0]
	for _, t := range times {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = valid
	return valid
}

// Allow records a request for key and reports whether it fits the window
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)
	if len(valid) >= rl.limit {
		return false
	}
	rl.requests[key] = append(valid, now)

	// occasional sweep so idle keys do not accumulate
	if len(rl.requests) > 1024 {
		for k := range rl.requests {
			rl.prune(k, now)
		}
	}
	return true
}

// RateLimit middleware limits requests per organization, falling back to
// the client IP for unauthenticated routes
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(OrganizationKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !limiter.Allow(key) {
			response.Abort(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		c.Next()
	}
}
