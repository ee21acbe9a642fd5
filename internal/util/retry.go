package util

import (
	"context"
	"time"
)

// Backoff returns the delay to wait before the given 1-based attempt.
type Backoff func(attempt int) time.Duration

// Linear returns a Backoff of base*attempt.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Retry calls fn up to maxAttempts times, waiting backoff(attempt) before
// each attempt. It returns nil on the first successful call, the last error
// if all attempts fail, or the context error if ctx is cancelled while
// waiting.
func Retry(ctx context.Context, maxAttempts int, backoff Backoff, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if backoff != nil {
			if serr := Sleep(ctx, backoff(attempt)); serr != nil {
				return serr
			}
		}
		if err = fn(attempt); err == nil {
			return nil
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
