package ai

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Transient-error signatures worth retrying. Anything else propagates
// immediately with no retry.
var retryMarkers = []string{
	"429",
	"rate limit",
	"temporarily unavailable",
	"timeout",
	"timed out",
	"connection reset",
	"service unavailable",
	"internal error",
	"resource exhausted",
}

// IsTransient classifies an error as a retryable upstream condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range retryMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// RetryConfig bounds the capability retry loop.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RetryWithBackoff runs fn, retrying classified transient failures with
// capped exponential backoff plus a small jitter to avoid thundering-herd
// retries. The last error is returned once attempts are exhausted or the
// error is not transient.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 20 * time.Second
	}
	attempt := 0
	for {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		attempt++
		if attempt >= cfg.MaxRetries || !IsTransient(err) {
			return zero, err
		}
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay + jitter):
		}
	}
}
