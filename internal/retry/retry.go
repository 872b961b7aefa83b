// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int           // Total attempts including the first (default: 3)
	Delay       time.Duration // Delay before the second attempt (default: 1 second)
	MaxDelay    time.Duration // Backoff cap (default: 10 seconds)
}

// DefaultConfig returns the download retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Func is one attempt of the operation.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is cancelled.
//
// Backoff schedule with defaults:
//   - Attempt 1: immediate
//   - Attempt 2: after 1s
//   - Attempt 3: after 2s
//
// A nil retryable treats every error as retryable.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn Func) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if retryable != nil && !retryable(last) {
			return last
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Backoff(attempt, cfg)
		slog.Warn("retry: attempt failed, backing off",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", last,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

// Backoff returns the wait after the given failed attempt:
// Delay * 2^(attempt-1), capped at MaxDelay.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.Delay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
