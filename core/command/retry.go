package command

import (
	"context"
	"errors"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/retry"
)

// DispatchWithRetry dispatches cmd again when the handler lost an
// optimistic concurrency race. Handlers reload their aggregate on every
// call, so a retry works on fresh state. Any other error is returned as is.
func DispatchWithRetry(ctx context.Context, bus *Bus, cmd Command, s retry.Strategy) error {
	s.Retryable = func(err error) bool { return errors.Is(err, es.ErrConcurrencyConflict) }
	return retry.Do(ctx, s, func(ctx context.Context) error {
		return bus.Dispatch(ctx, cmd)
	})
}
