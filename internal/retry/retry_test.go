package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errThrottled = errors.New("throttled")

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestWithRetryReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), fastConfig(3), func(ctx context.Context) (string, error) {
		calls++
		return "ratings", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ratings" || calls != 1 {
		t.Errorf("got %q after %d calls; want %q after 1", got, calls, "ratings")
	}
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), fastConfig(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errThrottled
		}
		return 200, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 200 || calls != 3 {
		t.Errorf("got %d after %d calls; want 200 after 3", got, calls)
	}
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastConfig(2), func(ctx context.Context) (string, error) {
		calls++
		return "", errThrottled
	})
	if !errors.Is(err, errThrottled) {
		t.Fatalf("expected wrapped errThrottled, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	notFound := errors.New("not found")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errThrottled) }

	calls := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "", notFound
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("expected wrapped notFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestWithRetryLinearDelaysReportedToOnRetry(t *testing.T) {
	cfg := Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Millisecond,
		Strategy:   Linear,
	}
	var delays []time.Duration
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}

	calls := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errThrottled
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d retries, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("retry %d waited %v; want %v", i+1, delays[i], want[i])
		}
	}
}

func TestWithRetryContextCancellation(t *testing.T) {
	cfg := fastConfig(5)
	cfg.BaseDelay = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := WithRetry(ctx, cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return "", errThrottled
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls > 3 {
		t.Errorf("expected at most 3 calls due to cancellation, got %d", calls)
	}
}

func TestWithRetryWithoutAttemptTimeout(t *testing.T) {
	cfg := fastConfig(0)
	cfg.Timeout = 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (bool, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("attempt context should not carry a deadline")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCalculateLinearDelay(t *testing.T) {
	base := 30 * time.Second
	if got := calculateLinearDelay(0, base, 0); got != 30*time.Second {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := calculateLinearDelay(2, base, 0); got != 90*time.Second {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := calculateLinearDelay(5, base, time.Minute); got != time.Minute {
		t.Errorf("capped attempt: got %v", got)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	baseDelay := 10 * time.Millisecond
	maxDelay := 100 * time.Millisecond

	tests := []struct {
		attempt     int
		minDelay    time.Duration
		maxExpected time.Duration
	}{
		{0, 5 * time.Millisecond, 15 * time.Millisecond},
		{1, 10 * time.Millisecond, 30 * time.Millisecond},
		{2, 20 * time.Millisecond, 60 * time.Millisecond},
		{4, 50 * time.Millisecond, 100 * time.Millisecond},
		{100, 50 * time.Millisecond, 100 * time.Millisecond},
	}

	for _, test := range tests {
		for i := 0; i < 10; i++ {
			result := calculateBackoffDelay(test.attempt, baseDelay, maxDelay)
			if result < test.minDelay || result > test.maxExpected {
				t.Errorf("calculateBackoffDelay(%d) = %v, expected between %v and %v",
					test.attempt, result, test.minDelay, test.maxExpected)
			}
		}
	}
}

func TestBeforeAttemptRunsOutsideAttemptTimeout(t *testing.T) {
	cfg := fastConfig(1)
	cfg.Timeout = 10 * time.Millisecond
	waits := 0
	cfg.BeforeAttempt = func(ctx context.Context) error {
		waits++
		time.Sleep(30 * time.Millisecond)
		return nil
	}

	got, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || waits != 1 {
		t.Errorf("got %q after %d waits; want %q after 1", got, waits, "ok")
	}
}

func TestBeforeAttemptErrorStopsRetrying(t *testing.T) {
	cfg := fastConfig(3)
	stop := errors.New("limiter closed")
	cfg.BeforeAttempt = func(ctx context.Context) error { return stop }

	calls := 0
	_, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected %v, got %v", stop, err)
	}
	if calls != 0 {
		t.Errorf("expected no attempts, got %d", calls)
	}
}
