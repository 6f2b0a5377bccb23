package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

const (
	retryMaxTries   = 4
	retryMaxElapsed = 2 * time.Second
)

// retry runs op with bounded exponential backoff. Domain outcomes from the
// repository layer are not retried; they are returned as-is.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(retryMaxTries),
		backoff.WithMaxElapsedTime(retryMaxElapsed),
	)
}

func permanent(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrNotInProgress) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, context.Canceled)
}
