package gorm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/idem"
	"github.com/codewandler/aggstore/ports/kv"
)

func TestKV(t *testing.T) {
	store := NewKV(NewTestDB(t))
	ctx := t.Context()

	t.Run("put and get", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)

		rev1, err := store.Put(ctx, "k1", []byte("a"), kv.PutOptions{})
		require.NoError(t, err)
		rev2, err := store.Put(ctx, "k1", []byte("b"), kv.PutOptions{})
		require.NoError(t, err)
		require.Greater(t, rev2, rev1)

		e, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "b", string(e.Data))
		require.Equal(t, rev2, e.Revision)
	})

	t.Run("create and update", func(t *testing.T) {
		rev, err := store.Create(ctx, "k2", []byte("1"), kv.PutOptions{})
		require.NoError(t, err)

		_, err = store.Create(ctx, "k2", []byte("2"), kv.PutOptions{})
		require.ErrorIs(t, err, kv.ErrExists)

		_, err = store.Update(ctx, "k2", []byte("2"), rev+5, kv.PutOptions{})
		require.ErrorIs(t, err, kv.ErrRevisionMismatch)

		_, err = store.Update(ctx, "k2", []byte("2"), 0, kv.PutOptions{})
		require.ErrorIs(t, err, kv.ErrRevisionMismatch)

		next, err := store.Update(ctx, "k2", []byte("2"), rev, kv.PutOptions{})
		require.NoError(t, err)
		require.Equal(t, rev+1, next)
	})

	t.Run("delete", func(t *testing.T) {
		_, err := store.Put(ctx, "k3", []byte("x"), kv.PutOptions{})
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "k3"))
		require.NoError(t, store.Delete(ctx, "k3"))

		_, err = store.Get(ctx, "k3")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})
}

func TestKV_TTL(t *testing.T) {
	clock := time.Now()
	store := NewKV(NewTestDB(t))
	store.now = func() time.Time { return clock }
	ctx := t.Context()

	_, err := store.Create(ctx, "lock", []byte("1"), kv.PutOptions{TTL: time.Minute})
	require.NoError(t, err)
	_, err = store.Create(ctx, "lock", []byte("1"), kv.PutOptions{TTL: time.Minute})
	require.ErrorIs(t, err, kv.ErrExists)

	clock = clock.Add(2 * time.Minute)

	_, err = store.Get(ctx, "lock")
	require.ErrorIs(t, err, kv.ErrNotFound)
	_, err = store.Create(ctx, "lock", []byte("2"), kv.PutOptions{TTL: time.Minute})
	require.NoError(t, err)
}

func TestKV_Idempotency(t *testing.T) {
	ctrl := idem.NewControl(idem.NewKeyValueStore(NewKV(NewTestDB(t))))
	ctx := t.Context()

	ok, err := ctrl.Acquire(ctx, "deposit", "cmd-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ctrl.Acquire(ctx, "deposit", "cmd-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ctrl.Release(ctx, "deposit", "cmd-1"))
	ok, err = ctrl.Acquire(ctx, "deposit", "cmd-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKV_Snapshots(t *testing.T) {
	db := NewTestDB(t)
	snapshotter := es.NewKeyValueSnapshotter(NewKV(db))
	store := es.NewDurableStore(NewBackend(db, nil), es.WithSnapshotter(snapshotter), es.WithSnapshotFrequency(2))
	key := es.StreamKey{AggregateType: "account", AggregateID: "s1"}

	_, err := store.SaveEvents(
		t.Context(), key.AggregateType, key.AggregateID, 0, testEnvelopes(key, 0, 2),
		es.WithSnapshotState(func() ([]byte, error) { return []byte(`{"balance":2}`), nil }),
	)
	require.NoError(t, err)

	snap, err := snapshotter.LoadSnapshot(t.Context(), key.AggregateType, key.AggregateID)
	require.NoError(t, err)
	require.Equal(t, es.Version(2), snap.ObjVersion)
	require.JSONEq(t, `{"balance":2}`, string(snap.Data))
}
