package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dedupfs/dupview/internal/constants"
)

// ErrExhaustedRetries is returned by ExecuteWithBackoff when every attempt hit
// a retryable failure.
var ErrExhaustedRetries = errors.New("exhausted retries")

// BackoffConfig holds parameters for ExecuteWithBackoff.
type BackoffConfig struct {
	// MaxRetries is the number of retries after the first attempt (default: 4)
	MaxRetries int
	// Base is the delay before the first retry, doubled for each further retry (default: 300ms)
	Base time.Duration
	// Jitter is the exclusive upper bound of uniform jitter added to each delay (default: 180ms)
	Jitter time.Duration
	// Retryable decides whether an error is worth another attempt
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done (default: SleepContext)
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, n) (default: math/rand)
	Rand func(n int64) int64
	// OnRetry is an optional callback invoked before each retry wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultBackoffConfig returns the thumbnail request backoff:
// 300ms * 2^attempt + jitter[0,180ms), four retries.
func DefaultBackoffConfig(retryable func(error) bool) BackoffConfig {
	return BackoffConfig{
		MaxRetries: constants.RequestMaxRetries,
		Base:       constants.RequestBackoffBase,
		Jitter:     constants.RequestBackoffJitter,
		Retryable:  retryable,
	}
}

// CalculateBackoff returns base * 2^attempt plus jitter drawn from rnd.
//
// Formula: base * 2^attempt + uniform[0, jitter)
func CalculateBackoff(attempt int, base, jitter time.Duration, rnd func(int64) int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base * time.Duration(1<<uint(attempt))
	if jitter > 0 {
		if rnd == nil {
			rnd = rand.Int63n
		}
		delay += time.Duration(rnd(int64(jitter)))
	}
	return delay
}

// ExecuteWithBackoff runs operation, retrying retryable failures with
// exponential backoff.
//
// Retry strategy:
//   - Success: return nil
//   - Non-retryable error: return it immediately
//   - Retryable error: wait CalculateBackoff(attempt) and try again, up to MaxRetries times
//   - Retryable error after the last retry: return ErrExhaustedRetries wrapping it
//   - Context cancellation: return immediately
func ExecuteWithBackoff(ctx context.Context, cfg BackoffConfig, operation func(ctx context.Context) error) error {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, attempt+1, err)
		}

		delay := CalculateBackoff(attempt, cfg.Base, cfg.Jitter, cfg.Rand)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// PollInterval returns the wait before poll number n (0-based):
// base + n*step, capped at max. The sequence is linear and non-decreasing.
func PollInterval(n int, base, step, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base + time.Duration(n)*step
	if d > max {
		d = max
	}
	return d
}

// CooldownDelay converts a server retry timestamp into a wait, clamped to [min, max].
func CooldownDelay(retryAfter, now time.Time, min, max time.Duration) time.Duration {
	d := retryAfter.Sub(now)
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
