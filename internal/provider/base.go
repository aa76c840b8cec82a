package provider

import (
	"context"
	"fmt"
	"time"
)

// Retry runs op, retrying while isRetryable(err) holds, up to maxAttempts
// total attempts, sleeping an exponential backoff between attempts
// (2^(attempt-1) seconds, capped), matching spec §4.2's backoff contract.
// A RateLimited error's RetryAfterMs, when present, overrides the
// computed backoff for that attempt rather than being ignored. The
// final error is wrapped as "failed after N attempts", N being the
// number of attempts actually made (fewer than maxAttempts when a
// non-retryable error ends the loop early).
// Adapted from the teacher's BaseProvider.Retry helper.
func Retry(ctx context.Context, maxAttempts int, cap time.Duration, isRetryable func(error) bool, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || !isRetryable(lastErr) {
			break
		}
		delay := time.Duration(1<<uint(attempt-1)) * time.Second
		if cap > 0 && delay > cap {
			delay = cap
		}
		if e, ok := As(lastErr); ok && e.Reason == ReasonRateLimited && e.RetryAfterMs > 0 {
			delay = time.Duration(e.RetryAfterMs) * time.Millisecond
			if cap > 0 && delay > cap {
				delay = cap
			}
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
