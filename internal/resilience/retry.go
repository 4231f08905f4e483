package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions bounds a retry sequence: an ExponentialBackOff with a
// capped MaxElapsedTime, an optional attempt limit, and an optional
// breaker gate.
type RetryOptions struct {
	MaxRetries     int
	InitialInterval time.Duration
	MaxElapsedTime time.Duration
	Breaker        *Breaker // optional; nil means no breaker gating
}

// Retry runs fn with exponential backoff, respecting ctx cancellation
// and, if opts.Breaker is set, refusing to attempt fn at all while the
// breaker is open. fn should return backoff.Permanent(err) for errors
// that must not be retried.
func Retry(ctx context.Context, opts RetryOptions, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		bo.InitialInterval = opts.InitialInterval
	}
	if opts.MaxElapsedTime > 0 {
		bo.MaxElapsedTime = opts.MaxElapsedTime
	}

	var attempts int
	wrapped := func() error {
		if opts.Breaker != nil && !opts.Breaker.Allow() {
			return backoff.Permanent(ErrBreakerOpen)
		}
		attempts++
		err := fn()
		if opts.Breaker != nil {
			if err != nil {
				opts.Breaker.RecordFailure()
			} else {
				opts.Breaker.RecordSuccess()
			}
		}
		if err != nil && opts.MaxRetries > 0 && attempts > opts.MaxRetries {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}
