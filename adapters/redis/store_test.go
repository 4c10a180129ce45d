package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/idem"
)

func TestIdempotencyStore(t *testing.T) {
	addr := NewTestContainer(t, testing.Short())
	store, err := Connect(Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := t.Context()

	t.Run("set if absent", func(t *testing.T) {
		ok, err := store.SetIfAbsent(ctx, "k1", "v", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.SetIfAbsent(ctx, "k1", "v", time.Minute)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.Delete(ctx, "k1"))
		ok, err = store.SetIfAbsent(ctx, "k1", "v", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("expires", func(t *testing.T) {
		ok, err := store.SetIfAbsent(ctx, "k2", "v", 100*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		require.Eventually(t, func() bool {
			ok, err := store.SetIfAbsent(ctx, "k2", "v", time.Minute)
			return err == nil && ok
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("delete missing key", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "missing"))
	})

	t.Run("control", func(t *testing.T) {
		c := idem.NewControl(store, idem.WithTTL(time.Minute))
		var calls atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := c.Once(ctx, "deposit", "cmd-1", func(context.Context) error {
					calls.Add(1)
					return nil
				})
				if err != nil && !errors.Is(err, idem.ErrDuplicate) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)

	_, err = Connect(Config{})
	require.Error(t, err)
}
