package downloader

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy decides whether a failed transfer attempt is repeated and how
// long to wait first.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy retries transient failures with capped exponential
// backoff. Attempts are counted from 1 and include the first try.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy waits min(2^attempt, 10) seconds between attempts.
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	return NewExponentialRetryPolicyWithDelays(maxAttempts, time.Second, 10*time.Second)
}

// NewExponentialRetryPolicyWithDelays builds a policy with explicit delays.
func NewExponentialRetryPolicyWithDelays(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts reports the total number of attempts allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Backoff returns the wait duration after the given failed attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) || math.IsInf(delay, 1) {
		return p.maxDelay
	}
	return time.Duration(delay)
}
