package chain

import (
	"context"
	"time"
)

// RetryConfig bounds a retried operation.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the submission defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff,
// doubling the delay between attempts up to cfg.MaxDelay. It returns nil on
// the first success, the last error once attempts are exhausted, or
// ctx.Err() if the context is cancelled while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
