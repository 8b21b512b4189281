package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with jitter for transient
// Completer failures (network errors, 5xx, 429).
type RetryPolicy struct {
	// MaxAttempts caps the total number of attempts, including the first.
	// Zero is treated as 1 (no retries).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Factor multiplies the delay after each retry. Values < 1 are treated as 1.
	Factor float64
}

// defaultRetryPolicy matches spec defaults: 3 attempts, 500ms base, factor 2.
func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Factor: 2}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) factor() float64 {
	if p.Factor < 1 {
		return 1
	}
	return p.Factor
}

// delay returns the backoff delay before attempt n (1-indexed, n>=2) with
// full jitter: a random duration in [0, base*factor^(n-2)].
func (p RetryPolicy) delay(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := float64(base)
	for i := 0; i < n-2; i++ {
		d *= p.factor()
	}
	return time.Duration(rand.Float64() * d) //nolint:gosec
}

// isRetryable reports whether err represents a transient provider failure
// that should be retried: anything wrapping ErrUnavailable or ErrRateLimited.
// ErrInvalidStructuredResponse and ErrTimeout are never retried by this
// policy (structured-response retries are handled by the continuation loop;
// timeouts respect the caller's context deadline).
func isRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

// withRetry calls fn up to policy.attempts() times, sleeping between
// attempts per policy.delay, and returns the last error if all attempts are
// exhausted or ctx is cancelled.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return newError(ErrTimeout, err)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.attempts() {
			break
		}
		select {
		case <-ctx.Done():
			return newError(ErrTimeout, ctx.Err())
		case <-time.After(policy.delay(attempt + 1)):
		}
	}
	return lastErr
}
