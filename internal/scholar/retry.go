package scholar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds the attempts made against the Semantic Scholar API
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Backoff returns the delay before the attempt following attempt (zero based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.RetryDelay * (1 << attempt)
}

// retryableError marks a failure worth another attempt
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	return &retryableError{err: err}
}

// WithRetry runs fn until it succeeds, returns a non-retryable error, or the
// policy's attempts run out. The last error is returned.
func WithRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}

		if attempt == attempts-1 {
			break
		}

		wait := policy.Backoff(attempt)
		logger.Info("Semantic Scholar call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.Any("error", lastErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("Semantic Scholar call failed",
		slog.String("op", op),
		slog.Int("attempts", attempts),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
