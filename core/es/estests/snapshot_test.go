package estests

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/estests/domain"
)

func TestSnapshot(t *testing.T) {
	t.Run("every 5 versions", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			repo  = es.EnvRepository[*domain.TestAgg](te.Env)
			aggID = "ss-" + gonanoid.Must()
		)

		a, err := repo.Create(t.Context(), aggID, nil)
		require.NoError(t, err)
		for range 11 {
			require.NoError(t, a.Inc())
			require.NoError(t, repo.Save(t.Context(), a))
		}
		require.Equal(t, es.Version(12), a.GetVersion())

		ss, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), "test_agg", aggID)
		require.NoError(t, err)
		require.NotEmpty(t, ss.SnapshotID)
		require.Equal(t, es.Version(10), ss.ObjVersion)
		require.Equal(t, aggID, ss.ObjID)
		require.Equal(t, "test_agg", ss.ObjType)

		loaded, err := repo.GetByID(t.Context(), aggID)
		require.NoError(t, err)
		require.Equal(t, 11, loaded.Count())
		require.Equal(t, es.Version(12), loaded.GetVersion())
		require.Equal(t, a.GetSeq(), loaded.GetSeq())

		replayed, err := repo.GetByID(t.Context(), aggID, es.WithSnapshot(false))
		require.NoError(t, err)
		require.Equal(t, loaded.Count(), replayed.Count())
		require.Equal(t, 11, replayed.NumTotalEvents)
	}, es.WithSnapshotFrequency(5)))

	t.Run("explicit snapshot", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			repo  = es.EnvRepository[*domain.TestAgg](te.Env)
			aggID = "ss-" + gonanoid.Must()
		)

		a, err := repo.GetOrCreate(t.Context(), aggID, es.WithSaveOpts(es.WithSnapshot(true)))
		require.NoError(t, err)
		require.NoError(t, a.IncBy(5))
		require.NoError(t, repo.Save(t.Context(), a, es.WithSnapshot(true)))

		ss, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), "test_agg", aggID)
		require.NoError(t, err)
		require.Equal(t, es.Version(2), ss.ObjVersion)
		require.Equal(t, a.GetSeq(), ss.StreamSeq)

		// a second env on the same store starts from the snapshot
		te2 := tef()
		repo2 := es.EnvRepository[*domain.TestAgg](te2.Env)
		b, err := repo2.GetByID(t.Context(), aggID)
		require.NoError(t, err)
		require.Equal(t, 5, b.Count())
		require.Equal(t, es.Version(2), b.GetVersion())

		require.NoError(t, b.Inc())
		require.NoError(t, repo2.Save(t.Context(), b, es.WithSnapshot(true)))

		ss, err = es.LoadSnapshot(t.Context(), te.Snapshotter(), "test_agg", aggID)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), ss.ObjVersion)
	}))
}
