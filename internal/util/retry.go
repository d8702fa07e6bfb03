package util

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// transientClassifier lets Retry stop early on a non-retryable error
// without internal/util importing internal/chain (which would invert the
// module's dependency direction).
type transientClassifier interface {
	Temporary() bool
}

// Retry calls fn up to maxAttempts times with capped exponential backoff
// plus jitter, matching the chain adapter's documented discipline:
// initial 500ms, factor 2, max 5 attempts, jittered. fn's error is
// returned unchanged. Retry stops early and returns fn's error when that
// error (or one it wraps) has a Temporary() bool method reporting false;
// any other error is retried. The chain adapter relies on this by
// returning a PermanentChainError for non-retryable failures.
func Retry(ctx context.Context, initial time.Duration, factor float64, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := initial
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var tc transientClassifier
		if errors.As(lastErr, &tc) && !tc.Temporary() {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		jittered := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		backoff = time.Duration(float64(backoff) * factor)
	}
	return lastErr
}
