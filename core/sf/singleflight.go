package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Singleflight runs at most one fn per key at a time. Callers arriving while
// a flight is running wait for it and share its result.
type Singleflight[T any] struct {
	group singleflight.Group
}

func New[T any]() *Singleflight[T] { return &Singleflight[T]{} }

// Do joins or starts the flight for key. fn runs on a context that is not
// cancelled with ctx, so one caller giving up does not fail the others. A
// caller whose ctx ends stops waiting and gets ctx.Err(). Shared results
// must be treated as read-only.
func (s *Singleflight[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) { return fn(flightCtx) })
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Forget drops an in-flight key so the next call runs fn again.
func (s *Singleflight[T]) Forget(key string) { s.group.Forget(key) }
