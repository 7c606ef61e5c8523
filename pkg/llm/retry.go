package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts caps how many times a call is attempted before the
// failure becomes terminal.
const DefaultMaxAttempts = 3

// DefaultBackoff is the fixed pause between attempts. No exponential
// growth, no jitter.
const DefaultBackoff = 2 * time.Second

// Retry invokes fn up to attempts times, sleeping backoff between
// attempts. The first success wins. When every attempt fails the last
// error is returned joined with ErrExhaustedRetries so callers can match
// either. Context cancellation aborts the wait and surfaces ctx.Err().
func Retry[T any](ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		return zero, fmt.Errorf("retry attempts must be positive, got %d", attempts)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < attempts {
			if err := sleep(ctx, backoff); err != nil {
				return zero, err
			}
		}
	}

	return zero, errors.Join(ErrExhaustedRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
