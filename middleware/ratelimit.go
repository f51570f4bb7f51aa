// Package middleware provides gin middleware for the relay.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/saif727/reward-token-relay/metrics"
	"github.com/saif727/reward-token-relay/models"
)

type clientLimiter struct {
	limiter     *rate.Limiter
	windowStart time.Time
	lastSeen    time.Time
}

// RateLimiter caps requests per client IP in fixed windows. Over-limit
// requests are rejected immediately, never queued.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	requests int
	window   time.Duration
	idle     time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

// NewRateLimiter allows at most requests per window for each client.
func NewRateLimiter(requests int, window time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		requests: requests,
		window:   window,
		idle:     2 * window,
		log:      log,
		now:      time.Now,
	}
}

// windowLimiter starts a window with the full allowance. It refills one
// token per window, so less than one token comes back before the window
// rolls over and the bucket is replaced.
func (rl *RateLimiter) windowLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(rl.window), rl.requests)
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.limiters[key]
	if !ok || now.Sub(cl.windowStart) >= rl.window {
		if !ok {
			cl = &clientLimiter{}
			rl.limiters[key] = cl
		}
		cl.limiter = rl.windowLimiter()
		cl.windowStart = now
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Handler returns the rate limiting middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !rl.allow(key) {
			metrics.RecordRateLimited()
			RequestLogger(c, rl.log).WithField("client_ip", key).Warn("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Success: false,
				Error:   "too many requests, try again later",
				Code:    "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// Cleanup drops limiters idle for more than two windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
