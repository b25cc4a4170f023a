package passledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures exponential backoff for retryable store failures.
type RetryPolicy struct {
	// MaxTries counts every attempt, including the first.
	MaxTries uint

	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        5,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// retry runs fn until it succeeds, fails with a non-retryable error, the
// policy gives up or ctx is done. Rejections are returned verbatim on the
// first attempt.
func retry[T any](ctx context.Context, l *Ledger, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil || IsRetryable(err) {
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(l.config.Retry.backOff()),
		backoff.WithMaxTries(l.config.Retry.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Warn("passledger: retrying store operation",
				"op", op,
				"attempt", attempt,
				"backoff", next,
				"error", err,
			)
		}),
	)

	// The final attempt's error is returned as-is, which may still be wrapped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
