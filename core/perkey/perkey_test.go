package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_SequentialPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		running atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("acc-1", func() error {
				n := running.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())
}

func TestScheduler_SubmissionOrder(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	block := make(chan struct{})
	go func() {
		_ = s.Do("k", func() error { <-block; return nil })
	}()
	// let the blocker start
	require.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("k", func() error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	start := make(chan struct{})
	var started sync.WaitGroup
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		started.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(fmt.Sprintf("k%d", i), func() error {
				started.Done()
				<-start
				return nil
			})
		}()
	}
	// all four run at the same time, otherwise this would deadlock
	started.Wait()
	close(start)
	wg.Wait()
}

func TestScheduler_ErrorPropagation(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, s.Do("k", func() error { return boom }), boom)
}

func TestScheduler_DoContext(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, s.DoContext(ctx, "k", func() error { return nil }), context.Canceled)

	ctx, cancel = context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "k", func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_IdleKeysDropped(t *testing.T) {
	s := New[int]()
	defer s.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Do(i, func() error { return nil }))
	}
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)

	// a key can be reused after its queue drained
	require.NoError(t, s.Do(1, func() error { return nil }))
}

func TestScheduler_Close(t *testing.T) {
	s := New[string](WithBufferSize(-1))
	s.Close()
	s.Close()
	require.ErrorIs(t, s.Do("k", func() error { return nil }), ErrSchedulerClosed)
}
