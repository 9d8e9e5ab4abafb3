// Package ratelimit provides rate limiting for backend API calls using a
// token bucket algorithm.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/constants"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: rate at which tokens are added
//   - burstSize: maximum tokens that can accumulate
func NewRateLimiter(tokensPerSecond, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// NewBackendRateLimiter creates the limiter shared by all backend API
// calls (login, credential fetch, confirmations). The backend has no
// published throttle table; up to APIBurstCapacity calls pass at once,
// and later calls are paced at APIRatePerSec.
func NewBackendRateLimiter() *RateLimiter {
	return NewRateLimiter(constants.APIRatePerSec, constants.APIBurstCapacity)
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		// Time until one token accumulates
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// refill adds tokens according to elapsed time. Caller holds mu.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}
