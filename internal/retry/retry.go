package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // linear backoff: attempt * Delay
}

// WithRetry runs fn until it succeeds, attempts run out or ctx ends.
// Only process start-up uses it; pipeline calls are never retried in-process.
func WithRetry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := config.Delay
		if config.Backoff {
			delay = time.Duration(attempt) * config.Delay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "retry aborted")
		case <-timer.C:
		}
	}

	return errors.Wrapf(lastErr, "failed after %d attempts", config.MaxAttempts)
}
