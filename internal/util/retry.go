// ABOUTME: Retry utilities for model-endpoint calls with exponential backoff
// ABOUTME: Shared by the embedding client, backfill worker, and VLM client
package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// maxBackoff caps a single backoff sleep regardless of attempt count.
const maxBackoff = 30 * time.Second

// CalculateBackoff returns exponential backoff with jitter.
// The base delay doubles each attempt, with random jitter of ±25%.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in the bit shift
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}

// Retry runs fn up to maxRetries+1 times, sleeping with exponential backoff
// between attempts. It stops early when fn succeeds or ctx is cancelled, and
// returns the last error otherwise.
func Retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(CalculateBackoff(baseDelay, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
