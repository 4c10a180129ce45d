package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fast() Strategy {
	s := Default()
	s.InitialDelay = time.Millisecond
	s.MaxDelay = 2 * time.Millisecond
	return s
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(t.Context(), fast(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(t.Context(), fast(), func(context.Context) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := Do(t.Context(), fast(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}

func TestDo_RetryableClassifier(t *testing.T) {
	errFatal := errors.New("fatal")
	s := fast().WithRetryable(func(err error) bool { return !errors.Is(err, errFatal) })

	calls := 0
	err := Do(t.Context(), s, func(context.Context) error {
		calls++
		return errFatal
	})
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var delays []time.Duration
	s := fast()
	s.OnRetry = func(_ error, next time.Duration) { delays = append(delays, next) }

	_ = Do(t.Context(), s, func(context.Context) error { return errFlaky })
	require.Len(t, delays, 2)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(t.Context(), fast(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Do(t.Context(), Strategy{}, func(context.Context) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}
