package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitOfWork(t *testing.T) {
	var published []Envelope
	p := PublisherFunc(func(_ context.Context, envs []Envelope) error {
		published = append(published, envs...)
		return nil
	})

	t.Run("commit publishes once", func(t *testing.T) {
		published = nil
		u := NewUnitOfWork()
		require.True(t, u.Add(busEnvelope("e1", "x")))
		require.True(t, u.Add(busEnvelope("e2", "x")))
		require.Len(t, u.Pending(), 2)

		require.NoError(t, u.Commit(t.Context(), p))
		require.NoError(t, u.Commit(t.Context(), p))
		require.Len(t, published, 2)
		require.False(t, u.Add(busEnvelope("e3", "x")))
	})

	t.Run("discard drops", func(t *testing.T) {
		published = nil
		u := NewUnitOfWork()
		u.Add(busEnvelope("e1", "x"))
		u.Discard()
		require.Empty(t, u.Pending())
		require.NoError(t, u.Commit(t.Context(), p))
		require.Empty(t, published)
	})

	t.Run("context", func(t *testing.T) {
		_, ok := UnitOfWorkFrom(t.Context())
		require.False(t, ok)

		u := NewUnitOfWork()
		got, ok := UnitOfWorkFrom(ContextWithUnitOfWork(t.Context(), u))
		require.True(t, ok)
		require.Same(t, u, got)
	})
}
