package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Exponential doubles the delay per attempt and applies jitter.
	Exponential Strategy = iota
	// Linear waits BaseDelay * attempt number, without jitter.
	Linear
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Timeout bounds a single attempt. Zero means the attempt inherits ctx only.
	Timeout  time.Duration
	Strategy Strategy
	// Retryable reports whether err is worth another attempt. Nil retries every error.
	Retryable func(err error) bool
	// OnRetry is called before sleeping, with the 1-based number of the failed attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	// BeforeAttempt runs with ctx before every attempt, outside the attempt
	// timeout. An error from it ends the loop.
	BeforeAttempt func(ctx context.Context) error
}

func WithRetry[T any](ctx context.Context, config Config, operation func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if config.BeforeAttempt != nil {
			if err := config.BeforeAttempt(ctx); err != nil {
				return zero, err
			}
		}

		result, err := runAttempt(ctx, config.Timeout, operation)
		if err == nil {
			return result, nil
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Operation failed")

		if config.Retryable != nil && !config.Retryable(err) {
			return zero, fmt.Errorf("operation failed with non-retryable error on attempt %d: %w", attempt+1, err)
		}

		if attempt < config.MaxRetries {
			delay := config.delay(attempt)
			if config.OnRetry != nil {
				config.OnRetry(attempt+1, delay, err)
			}
			log.Debug().
				Dur("delay", delay).
				Int("next_attempt", attempt+2).
				Msg("Retrying after delay")

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
		return zero, fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, err)
	}
	return zero, fmt.Errorf("unexpected: exceeded retry loop")
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, operation func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return operation(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(opCtx)
}

func (c Config) delay(attempt int) time.Duration {
	if c.Strategy == Linear {
		return calculateLinearDelay(attempt, c.BaseDelay, c.MaxDelay)
	}
	return calculateBackoffDelay(attempt, c.BaseDelay, c.MaxDelay)
}

// calculateLinearDelay returns base * (attempt+1) for a 0-based attempt index.
func calculateLinearDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := time.Duration(attempt+1) * baseDelay
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func calculateBackoffDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	// Cap attempt at 30 to prevent overflow (2^30 is safe for int)
	safeAttempt := min(attempt, 30)
	multiplier := 1 << safeAttempt
	delay := time.Duration(multiplier) * baseDelay

	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter to prevent thundering herd - random between 0.5x and 1.5x
	jitter := 0.5 + rand.Float64()
	delay = time.Duration(float64(delay) * jitter)

	// Ensure we don't exceed maxDelay after jitter
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
