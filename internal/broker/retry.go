package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxRetryAttempts = 3
	retryBaseDelay   = 2 * time.Second
	retryMaxDelay    = 30 * time.Second
)

// WithRetry runs fn up to three times with exponential backoff, retrying
// only transient failures. Backoff is abandoned when ctx is cancelled.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	delay := retryBaseDelay
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetryAttempts {
			break
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", maxRetryAttempts).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return lastErr
}

// FetchWithRetry is WithRetry for calls that return a value
func FetchWithRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var result T
	err := WithRetry(ctx, op, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
