package estests

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/estests/domain"
)

func TestEventStore_All(t *testing.T) {
	t.Run("versions", eachStore(func(t *testing.T, tef Tef) {
		te := tef()

		first, err := te.AppendWithResult(t.Context(), 0, "test_agg", "a1", &domain.Incremented{Inc: 1}, &domain.Incremented{Inc: 2})
		require.NoError(t, err)
		require.Equal(t, es.Version(2), first.LastVersion)
		require.NotZero(t, first.LastSeq)

		second, err := te.AppendWithResult(t.Context(), 2, "test_agg", "a1", &domain.Reset{})
		require.NoError(t, err)
		require.Equal(t, es.Version(3), second.LastVersion)
		require.Greater(t, second.LastSeq, first.LastSeq)

		events, err := te.Store().GetEvents(t.Context(), "test_agg", "a1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			require.Equal(t, es.Version(i+1), e.Version)
			require.Equal(t, "test_agg", e.AggregateType)
			require.Equal(t, "a1", e.AggregateID)
			require.NotEmpty(t, e.ID)
		}
		require.Equal(t, es.EventTypeOf(&domain.Reset{}), events[2].Type)

		te.Assert().StreamLen(t.Context(), "test_agg", "unknown", 0)
	}))

	t.Run("conflict", eachStore(func(t *testing.T, tef Tef) {
		te := tef()
		ctx := t.Context()

		te.Assert().Append(ctx, 0, "test_agg", "A1", &domain.Incremented{Inc: 1})

		err := te.Append(ctx, 0, "test_agg", "A1", &domain.Incremented{Inc: 1})
		var conflict *es.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, es.Version(0), conflict.Expected)
		require.Equal(t, es.Version(1), conflict.Actual)

		te.Assert().Append(ctx, 1, "test_agg", "A1", &domain.Incremented{Inc: 1})
		te.Assert().StreamLen(ctx, "test_agg", "A1", 2)
	}))

	t.Run("concurrent appends", eachStore(func(t *testing.T, tef Tef) {
		te := tef()

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			won int
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := te.Append(t.Context(), 0, "test_agg", "race", &domain.Incremented{Inc: 1}, &domain.Reset{})
				switch {
				case err == nil:
					mu.Lock()
					won++
					mu.Unlock()
				case !errors.Is(err, es.ErrConcurrencyConflict):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, won)
		te.Assert().StreamLen(t.Context(), "test_agg", "race", 2)
	}))

	t.Run("scan", eachStore(func(t *testing.T, tef Tef) {
		te := tef()
		te.Assert().Append(t.Context(), 0, "test_agg", "s1", &domain.Incremented{Inc: 1})
		te.Assert().Append(t.Context(), 0, "test_agg", "s2", &domain.Incremented{Inc: 1}, &domain.Reset{})

		all, err := te.Store().GetAllEvents(t.Context())
		require.NoError(t, err)
		count := map[string]int{}
		for _, e := range all {
			count[e.AggregateID]++
		}
		require.Equal(t, map[string]int{"s1": 1, "s2": 2}, count)
	}))

	t.Run("compression", eachStore(func(t *testing.T, tef Tef) {
		te := tef()

		res, err := te.AppendWithResult(t.Context(), 0, "test_agg", "c1",
			&domain.StatusChanged{Status: "a"},
			&domain.MilestoneReached{Name: "m1"},
			&domain.StatusChanged{Status: "b"},
			&domain.Incremented{Inc: 1},
			&domain.StatusChanged{Status: "c"},
		)
		require.NoError(t, err)
		require.Len(t, res.Appended, 3)
		require.Equal(t, es.Version(3), res.LastVersion)

		a, err := es.EnvRepository[*domain.TestAgg](te.Env).GetByID(t.Context(), "c1")
		require.NoError(t, err)
		require.Equal(t, "c", a.Status)
		require.Equal(t, []string{"m1"}, a.Milestones)
		require.Equal(t, 1, a.Count())
	}, es.WithCompressionThreshold(3)))

	t.Run("create, mutate, load", eachStore(func(t *testing.T, tef Tef) {
		te := tef()
		repo := es.EnvRepository[*domain.TestAgg](te.Env)

		a, err := repo.Create(t.Context(), "1000", func(a *domain.TestAgg) error { return a.Inc() })
		require.NoError(t, err)
		require.Equal(t, es.Version(2), a.GetVersion())

		loaded, err := repo.GetByID(t.Context(), "1000")
		require.NoError(t, err)
		require.Equal(t, 1, loaded.Count())
		require.Equal(t, "1000", loaded.GetID())
		require.Equal(t, es.Version(2), loaded.GetVersion())
		require.Equal(t, a.GetSeq(), loaded.GetSeq())
		require.True(t, loaded.IsCreated())
	}))

	t.Run("loadtest", eachStore(func(t *testing.T, tef Tef) {
		const n = 2_000
		if testing.Short() {
			t.Skip("loadtest skipped in short mode")
		}

		var (
			te       = tef()
			repo     = es.EnvRepository[*domain.TestAgg](te.Env)
			versions = 1
		)

		a1, err := repo.Create(t.Context(), "lt", nil)
		require.NoError(t, err)

		for i := range n {
			require.NoError(t, a1.Inc())
			versions++
			if a1.Counter == 20 {
				require.NoError(t, a1.Reset())
				versions++
			}
			if i%100 == 0 {
				require.NoError(t, repo.Save(t.Context(), a1))
				require.Equal(t, es.Version(versions), a1.GetVersion())
			}
		}
		require.NoError(t, repo.Save(t.Context(), a1))
		require.Equal(t, es.Version(versions), a1.GetVersion())

		loadAt := time.Now()
		a2, err := repo.GetByID(t.Context(), "lt", es.WithUseCache(false))
		require.NoError(t, err)
		t.Logf("load took: %s", time.Since(loadAt))

		require.Equal(t, n, a2.NumIncrements)
		require.Equal(t, a1.Count(), a2.Count())
		require.Equal(t, a1.GetVersion(), a2.GetVersion())
		require.Equal(t, a1.GetSeq(), a2.GetSeq())
	}, es.WithSnapshotFrequency(250)))
}
