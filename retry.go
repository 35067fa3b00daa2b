package cascade

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls re-attempts of transient provider failures.
// An operation runs MaxAttempts+1 times at most: the initial call plus
// MaxAttempts retries. Only errors Retryable reports true for are
// re-attempted.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	// MaxTotalDuration bounds the whole retried operation, zero means
	// unbounded.
	MaxTotalDuration time.Duration
}

// DefaultRetryPolicy suits most provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		MaxTotalDuration:  60 * time.Second,
	}
}

// AggressiveRetryPolicy retries more, faster. For latency-tolerant batch
// work against flaky endpoints.
func AggressiveRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
		JitterFactor:      0.2,
		MaxTotalDuration:  30 * time.Second,
	}
}

// ConservativeRetryPolicy retries rarely with long waits. For strict
// rate-limited endpoints.
func ConservativeRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       2,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 3.0,
		JitterFactor:      0.1,
		MaxTotalDuration:  120 * time.Second,
	}
}

// DelayForAttempt returns the wait before retry number attempt (0-based):
// min(MaxDelay, InitialDelay * multiplier^attempt), scaled by up to
// JitterFactor of random extra.
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if ceil := float64(p.MaxDelay); base > ceil {
		base = ceil
	}
	jittered := base * (1 + rand.Float64()*p.JitterFactor)
	return time.Duration(jittered)
}

// Retry runs op under the policy. Non-retryable errors surface
// immediately; retryable ones are re-attempted with backoff until the
// attempt or duration budget runs out, then wrapped in ErrRetryExhausted.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.DelayForAttempt(attempt - 1)
			if policy.MaxTotalDuration > 0 && time.Since(start)+delay > policy.MaxTotalDuration {
				break
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
		}

		attempts++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err

		if policy.MaxTotalDuration > 0 && time.Since(start) >= policy.MaxTotalDuration {
			break
		}
	}

	return zero, &ErrRetryExhausted{
		Operation: operation,
		Attempts:  attempts,
		Err:       lastErr,
	}
}
