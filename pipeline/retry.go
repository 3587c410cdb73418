package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/limnc/flaked/errors"
)

// RetryPolicy bounds a retried operation: Attempts tries in total, Wait
// between consecutive tries.
type RetryPolicy struct {
	Attempts int
	Wait     time.Duration
}

// backOff builds the constant backoff matching the policy.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Wait), uint64(retries))
	return backoff.WithContext(b, ctx)
}

// RetryNotify is called after a failed attempt that will be retried.
type RetryNotify func(err error, attempt int, next time.Duration)

// Retry runs op until it succeeds or the policy is exhausted, and returns the
// result of the successful attempt or the last error. attempt starts at 1.
// A cancelled context stops further attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) (T, error), notify RetryNotify) (T, error) {
	var result T
	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++
		r, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy.backOff(ctx), func(err error, next time.Duration) {
		if notify != nil {
			notify(err, attempt, next)
		}
	})
	if err != nil {
		var zero T
		return zero, errors.Wrapf(err, "gave up after %d attempt(s)", attempt)
	}
	return result, nil
}
