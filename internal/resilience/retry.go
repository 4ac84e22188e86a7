package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// retry calls fn up to maxRetries+1 times with a fixed delay between attempts.
// Errors for which retryable reports false end the loop immediately.
func retry(ctx context.Context, maxRetries int, delay time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	backoff := wait.Backoff{
		Duration: delay,
		Factor:   1,
		Steps:    maxRetries + 1,
	}

	attempt := 0
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			return true, nil
		case !retryable(lastErr):
			return false, lastErr
		}
		if attempt <= maxRetries {
			slog.Warn("attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", maxRetries+1,
				"retry_delay", delay,
				"error", lastErr)
		}
		return false, nil
	})

	switch {
	case err == nil:
		return nil
	case lastErr != nil && errors.Is(err, lastErr):
		return lastErr
	case wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil:
		return fmt.Errorf("giving up after %d attempts: %w", attempt, lastErr)
	case lastErr != nil:
		return errors.Join(err, lastErr)
	default:
		return err
	}
}
