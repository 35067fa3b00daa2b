package cascade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), fastPolicy(3), "flaky",
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", NetworkError("mock", "connection reset")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" || calls != 3 {
		t.Fatalf("out = %q after %d calls", out, calls)
	}
}

func TestRetryNonRetryableSurfacesImmediately(t *testing.T) {
	calls := 0
	authErr := &ErrModel{Code: ModelAuthFailed, Provider: "mock", Message: "bad key"}
	_, err := Retry(context.Background(), fastPolicy(5), "auth",
		func(context.Context) (int, error) {
			calls++
			return 0, authErr
		})
	if !errors.Is(err, authErr) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryExhaustionReportsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), "doomed",
		func(context.Context) (int, error) {
			calls++
			return 0, NetworkError("mock", "still down")
		})

	var re *ErrRetryExhausted
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ErrRetryExhausted", err)
	}
	if re.Operation != "doomed" {
		t.Fatalf("operation = %q", re.Operation)
	}
	// initial call + 2 retries
	if re.Attempts != 3 || calls != 3 {
		t.Fatalf("attempts = %d, calls = %d", re.Attempts, calls)
	}
	var me *ErrModel
	if !errors.As(err, &me) {
		t.Fatal("cause not preserved in chain")
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{
		MaxAttempts:       10,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}

	calls := 0
	_, err := Retry(ctx, policy, "cancelled",
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, NetworkError("mock", "down")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryMaxTotalDurationCapsAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:       100,
		InitialDelay:      20 * time.Millisecond,
		MaxDelay:          20 * time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxTotalDuration:  50 * time.Millisecond,
	}

	calls := 0
	_, err := Retry(context.Background(), policy, "bounded",
		func(context.Context) (int, error) {
			calls++
			return 0, NetworkError("mock", "down")
		})

	var re *ErrRetryExhausted
	if !errors.As(err, &re) {
		t.Fatalf("err = %v", err)
	}
	if calls >= 10 {
		t.Fatalf("duration cap did not bite: %d calls", calls)
	}
	if re.Attempts != calls {
		t.Fatalf("reported attempts %d != actual calls %d", re.Attempts, calls)
	}
}

func TestDelayForAttemptBackoffAndBounds(t *testing.T) {
	p := RetryPolicy{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.5,
	}

	for attempt, base := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	} {
		d := p.DelayForAttempt(attempt)
		if d < base {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, d, base)
		}
		if ceiling := base + base/2; d > ceiling {
			t.Fatalf("attempt %d: delay %v above jitter ceiling %v", attempt, d, ceiling)
		}
	}
}

func TestRetryPolicyPresets(t *testing.T) {
	if p := DefaultRetryPolicy(); p.MaxAttempts != 3 || p.InitialDelay != 100*time.Millisecond {
		t.Fatalf("default = %+v", p)
	}
	if p := AggressiveRetryPolicy(); p.MaxAttempts != 5 || p.BackoffMultiplier != 1.5 {
		t.Fatalf("aggressive = %+v", p)
	}
	if p := ConservativeRetryPolicy(); p.MaxAttempts != 2 || p.InitialDelay != time.Second {
		t.Fatalf("conservative = %+v", p)
	}
}
