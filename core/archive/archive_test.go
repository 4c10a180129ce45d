package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/es"
)

func envelopes(aggID string, n int, at time.Time) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range out {
		out[i] = es.Envelope{
			ID:            fmt.Sprintf("%s-%d", aggID, i+1),
			Version:       es.Version(i + 1),
			AggregateType: "account",
			AggregateID:   aggID,
			Type:          "deposited",
			OccurredAt:    at,
			Data:          json.RawMessage(fmt.Sprintf(`{"amount":%d,"note":"é"}`, i+1)),
		}
	}
	return out
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, []ArchivedEvent) (int, error) { return 0, f.err }
func (f failingStore) Load(context.Context, string, string, es.Version) ([]ArchivedEvent, error) {
	return nil, f.err
}

func TestService_ArchiveAndRecover(t *testing.T) {
	archivedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	occurred := archivedAt.Add(-48 * time.Hour)
	store := NewMemoryStore()
	svc := NewService(store, WithBatchSize(2), WithClock(func() time.Time { return archivedAt }))

	envs := envelopes("a1", 5, occurred)
	n, err := svc.ArchiveEvents(t.Context(), envs)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	t.Run("idempotent", func(t *testing.T) {
		n, err := svc.ArchiveEvents(t.Context(), envs)
		require.NoError(t, err)
		require.Equal(t, 0, n)
		require.Equal(t, 5, store.Len())
	})

	t.Run("recover up to ceiling", func(t *testing.T) {
		got, err := svc.RecoverArchivedEvents(t.Context(), "account", "a1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, ev := range got {
			require.Equal(t, envs[i].ID, ev.ID)
			require.Equal(t, es.Version(i+1), ev.Version)
			require.Equal(t, []byte(envs[i].Data), []byte(ev.Data))
			require.Equal(t, archivedAt, ev.ArchivedAt)
			require.Equal(t, occurred, ev.OriginalTimestamp)
		}
	})

	t.Run("recover as envelopes", func(t *testing.T) {
		got, err := svc.RecoverEvents(t.Context(), "account", "a1", 100)
		require.NoError(t, err)
		require.Equal(t, envs, got)
	})

	t.Run("unknown aggregate", func(t *testing.T) {
		got, err := svc.RecoverArchivedEvents(t.Context(), "account", "nope", 100)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func TestService_Failure(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(failingStore{err: boom})

	_, err := svc.ArchiveEvents(t.Context(), envelopes("a1", 1, time.Now()))
	require.ErrorIs(t, err, ErrArchiveFailure)
	require.ErrorIs(t, err, boom)

	_, err = svc.RecoverArchivedEvents(t.Context(), "account", "a1", 1)
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "recover", failure.Op)
	require.Equal(t, "a1", failure.AggregateID)
}

func TestJob_RunOnce(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)

	snapshots := es.NewInMemorySnapshotter()
	store := es.NewInMemoryStore(es.WithSnapshotter(snapshots))
	ctx := t.Context()

	_, err := store.SaveEvents(ctx, "account", "a1", 0, envelopes("a1", 6, old))
	require.NoError(t, err)
	_, err = store.SaveEvents(ctx, "account", "a2", 0, envelopes("a2", 3, old))
	require.NoError(t, err)
	_, err = store.SaveEvents(ctx, "account", "a3", 0, envelopes("a3", 3, now.Add(-time.Hour)))
	require.NoError(t, err)

	require.NoError(t, snapshots.SaveSnapshot(ctx, &es.Snapshot{ObjType: "account", ObjID: "a1", ObjVersion: 4}))
	require.NoError(t, snapshots.SaveSnapshot(ctx, &es.Snapshot{ObjType: "account", ObjID: "a3", ObjVersion: 3}))

	svc := NewService(NewMemoryStore())
	job, err := NewJob(svc, store, JobConfig{}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	res, err := job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RunResult{Streams: 3, Archived: 4, Truncated: 4}, res)

	live, err := store.GetEvents(ctx, "account", "a1")
	require.NoError(t, err)
	require.Len(t, live, 2)
	require.Equal(t, es.Version(5), live[0].Version)

	recovered, err := svc.RecoverEvents(ctx, "account", "a1", 4)
	require.NoError(t, err)
	require.Len(t, recovered, 4)

	t.Run("stream without snapshot is left alone", func(t *testing.T) {
		live, err := store.GetEvents(ctx, "account", "a2")
		require.NoError(t, err)
		require.Len(t, live, 3)
	})

	t.Run("young events are kept", func(t *testing.T) {
		live, err := store.GetEvents(ctx, "account", "a3")
		require.NoError(t, err)
		require.Len(t, live, 3)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		res, err := job.RunOnce(ctx)
		require.NoError(t, err)
		require.Zero(t, res.Archived)
		require.Zero(t, res.Truncated)
	})

	t.Run("version survives truncation", func(t *testing.T) {
		_, err := store.SaveEvents(ctx, "account", "a1", 4, envelopes("a1", 1, now))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})
}

func TestJob_ArchivedPrefixRecoverable(t *testing.T) {
	now := time.Now()
	snapshots := es.NewInMemorySnapshotter()
	store := es.NewInMemoryStore(es.WithSnapshotter(snapshots))
	ctx := t.Context()

	_, err := store.SaveEvents(ctx, "account", "a1", 0, envelopes("a1", 3, now.Add(-60*24*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, snapshots.SaveSnapshot(ctx, &es.Snapshot{ObjType: "account", ObjID: "a1", ObjVersion: 2}))

	svc := NewService(NewMemoryStore())
	job, err := NewJob(svc, store, JobConfig{Retention: 24 * time.Hour})
	require.NoError(t, err)
	_, err = job.RunOnce(ctx)
	require.NoError(t, err)

	live, err := store.GetEvents(ctx, "account", "a1")
	require.NoError(t, err)
	require.Len(t, live, 1)

	// a full replay needs the archived prefix back
	archived, err := svc.RecoverEvents(ctx, "account", "a1", live[0].Version-1)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	require.Equal(t, es.Version(3), live[0].Version)
}

func TestJob_InvalidSchedule(t *testing.T) {
	_, err := NewJob(NewService(NewMemoryStore()), es.NewInMemoryStore(), JobConfig{Schedule: "not a cron"})
	require.Error(t, err)
}

func TestJob_StartStops(t *testing.T) {
	job, err := NewJob(NewService(NewMemoryStore()), es.NewInMemoryStore(), JobConfig{Schedule: "* * * * *"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := job.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}
