package cascade

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig bounds an operation's wall-clock time. Total caps the
// whole operation; FirstResponse caps the wait for the first streamed
// chunk. A zero duration disables that bound.
type TimeoutConfig struct {
	Total         time.Duration
	FirstResponse time.Duration
}

// DefaultTimeout suits interactive agent runs.
func DefaultTimeout() TimeoutConfig {
	return TimeoutConfig{Total: 300 * time.Second, FirstResponse: 30 * time.Second}
}

// NoTimeout disables both bounds.
func NoTimeout() TimeoutConfig {
	return TimeoutConfig{}
}

// QuickTimeout suits health checks and short completions.
func QuickTimeout() TimeoutConfig {
	return TimeoutConfig{Total: 30 * time.Second, FirstResponse: 5 * time.Second}
}

// LongTimeout suits batch and long-document work.
func LongTimeout() TimeoutConfig {
	return TimeoutConfig{Total: 600 * time.Second, FirstResponse: 60 * time.Second}
}

// RunWithTimeout executes op under a deadline of d. A deadline hit maps
// to ErrTimeout; zero d runs op without a bound.
func RunWithTimeout[T any](ctx context.Context, d time.Duration, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	out, err := op(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, &ErrTimeout{Operation: operation, Elapsed: time.Since(start)}
	}
	return out, err
}
