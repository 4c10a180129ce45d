package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSingleflight_SharesResult(t *testing.T) {
	s := New[[]int]()

	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Do(t.Context(), "k", func(context.Context) ([]int, error) {
				calls.Add(1)
				<-release
				return []int{1, 2, 3}, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.GreaterOrEqual(t, calls.Load(), int32(1))
	require.Less(t, calls.Load(), int32(5))
	for _, r := range results {
		require.Equal(t, []int{1, 2, 3}, r)
	}
}

func TestSingleflight_Error(t *testing.T) {
	s := New[string]()
	boom := errors.New("boom")
	v, err := s.Do(t.Context(), "k", func(context.Context) (string, error) { return "ignored", boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, v)
}

func TestSingleflight_CallerCancelled(t *testing.T) {
	s := New[int]()
	release := make(chan struct{})
	leaderDone := make(chan error, 1)

	go func() {
		_, err := s.Do(t.Context(), "k", func(ctx context.Context) (int, error) {
			<-release
			return 1, ctx.Err()
		})
		leaderDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.Do(ctx, "k", func(context.Context) (int, error) { return 2, nil })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-leaderDone)
}
