package static

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
)

// retryPolicy retries a single page fetch with exponential backoff and
// jitter on timeouts, connection errors, and the small set of retryable
// HTTP status codes. Client errors other than 408/429 fail immediately —
// retrying a 404 or 410 just wastes the job's time budget.
type retryPolicy struct {
	maxAttempts          int
	initialBackoff       time.Duration
	maxBackoff           time.Duration
	backoffMultiplier    float64
	retryableStatusCodes map[int]bool
}

func newRetryPolicy() *retryPolicy {
	return &retryPolicy{
		maxAttempts:       3,
		initialBackoff:    time.Second,
		maxBackoff:        30 * time.Second,
		backoffMultiplier: 2.0,
		retryableStatusCodes: map[int]bool{
			408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

func (p *retryPolicy) shouldRetry(attempt, statusCode int, err error) bool {
	if attempt >= p.maxAttempts-1 {
		return false
	}
	if statusCode > 0 {
		if p.retryableStatusCodes[statusCode] {
			return true
		}
		if statusCode >= 400 && statusCode < 500 {
			return false
		}
	}
	return isRetryableError(err)
}

func (p *retryPolicy) calculateBackoff(attempt int) time.Duration {
	backoff := float64(p.initialBackoff) * pow(p.backoffMultiplier, float64(attempt))
	if backoff > float64(p.maxBackoff) {
		backoff = float64(p.maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < 0 {
		backoff = float64(p.initialBackoff)
	}
	return time.Duration(backoff)
}

// executeWithRetry runs fn, retrying on a retryable outcome until
// maxAttempts is exhausted or ctx is cancelled.
func (p *retryPolicy) executeWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var lastErr error
	var statusCode int

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		statusCode, lastErr = fn()

		if lastErr == nil && !p.retryableStatusCodes[statusCode] {
			return statusCode, nil
		}
		if !p.shouldRetry(attempt, statusCode, lastErr) {
			return statusCode, lastErr
		}

		backoff := p.calculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt+1).
			Int("status_code", statusCode).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("retrying page fetch after backoff")

		select {
		case <-ctx.Done():
			return statusCode, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return statusCode, lastErr
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
