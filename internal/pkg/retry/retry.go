// Package retry runs an operation with exponential backoff and full jitter.
// Only errors the caller classifies as transient are retried.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ignite/tinymail/internal/pkg/logger"
)

// minDelay keeps a zero-length jitter from turning into a busy loop.
const minDelay = 100 * time.Millisecond

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy retries twice starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do calls fn until it succeeds, returns an error that retryable rejects,
// the retry budget is spent, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			logger.Warn("retry: backing off",
				"op", op, "attempt", attempt, "max_retries", p.MaxRetries,
				"delay", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || retryable == nil || !retryable(err) {
			return err
		}
	}
	return lastErr
}

// Delay returns the backoff before retry number attempt (1-based):
// random(0, min(MaxDelay, BaseDelay * 2^(attempt-1))), floored at 100ms.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < minDelay {
		d = minDelay
	}
	return d
}
