// Package ratelimit provides client-side rate limiting for catalog API calls
// using a token bucket algorithm.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/logging"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	name         string
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time we warned about rate limiting
	logger       *logging.Logger
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 20.0 for 20 tokens/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logging.NewNopLogger(),
	}
}

// WithLogger names the limiter and routes its long-wait warnings to logger.
func (rl *RateLimiter) WithLogger(name string, logger *logging.Logger) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.name = name
	if logger != nil {
		rl.logger = logger
	}
	return rl
}

// Wait blocks until a token is available or context is cancelled.
// Returns an error if the context is cancelled before a token becomes available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	// Need to wait - warn if wait might be long
	waitTime := rl.timeUntilNextToken()
	if waitTime > constants.RateLimitWarningThreshold {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > constants.RateLimitWarningInterval {
			rl.logger.Warn().
				Str("limiter", rl.name).
				Dur("wait", waitTime).
				Msg("rate limited, waiting for API capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				rl.logger.Debug().Str("limiter", rl.name).Dur("waited", actualWait).Msg("rate limit wait completed")
			}
			return nil
		}

		waitDuration := rl.timeUntilNextToken()
		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire attempts to acquire one token without blocking.
// Returns true if a token was acquired, false otherwise.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}
	if rl.refillRate <= 0 {
		return time.Second
	}

	secondsNeeded := tokensNeeded / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// Drain empties the bucket. Called when the server answers 429 so the next
// requests are paced at the refill rate instead of bursting again.
func (rl *RateLimiter) Drain() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(time.Now())
	rl.tokens = 0
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.lastRefill).Seconds()
	tokens := rl.tokens + (elapsed * rl.refillRate)
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}
