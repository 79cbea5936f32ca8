package supervisor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// RetryPolicy bounds Retry. Zero MaxElapsed retries until ctx is done.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
	MaxRetries uint64
}

// DefaultRetryPolicy backs off from 250ms to 30s.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    250 * time.Millisecond,
	Max:        30 * time.Second,
	MaxElapsed: 2 * time.Minute,
}

// Retry runs op until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. Only errors for which errors.IsRetryable holds are retried.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.Initial
	exp.MaxInterval = policy.Max
	exp.MaxElapsedTime = policy.MaxElapsed

	var b backoff.BackOff = exp
	if policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, policy.MaxRetries)
	}

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(b, ctx))
}
