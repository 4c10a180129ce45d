// Package retry runs an operation with exponential backoff.
//
//	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
//	    return repo.Save(ctx, acc)
//	})
//
// An error wrapped with Permanent, or rejected by Strategy.Retryable, stops
// the loop immediately and is returned unwrapped.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Strategy struct {
	// MaxAttempts counts the first call. Values < 1 mean a single attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter randomizes each delay by +/- the given fraction.
	Jitter float64

	// Retryable classifies errors. Nil retries everything not marked
	// Permanent.
	Retryable func(error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(err error, next time.Duration)
}

// Default is 3 attempts starting at 100ms, doubling up to 5s.
func Default() Strategy {
	return Strategy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Second,
	}
}

func (s Strategy) WithRetryable(fn func(error) bool) Strategy {
	s.Retryable = fn
	return s
}

func (s Strategy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialDelay
	b.Multiplier = s.Multiplier
	b.MaxInterval = s.MaxDelay
	b.RandomizationFactor = s.Jitter
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func Do(ctx context.Context, s Strategy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, s Strategy, fn func(ctx context.Context) (T, error)) (T, error) {
	tries := s.MaxAttempts
	if tries < 1 {
		tries = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	}
	if s.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(s.OnRetry)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && s.Retryable != nil && !s.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
