package util

import (
	"context"
	"errors"
	"time"
)

// Retry runs fn up to attempts times with exponentially growing delays,
// stopping early on success or context cancellation.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 100 * time.Millisecond
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}
