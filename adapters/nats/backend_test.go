package nats

import (
	"encoding/json"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/es"
)

func testEnvelopes(key es.StreamKey, from es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range out {
		out[i] = es.Envelope{
			ID:            gonanoid.Must(),
			Version:       from + es.Version(i) + 1,
			AggregateType: key.AggregateType,
			AggregateID:   key.AggregateID,
			Type:          "deposited",
			OccurredAt:    time.Now().UTC(),
			Data:          json.RawMessage(`{"amount":1}`),
		}
	}
	return out
}

func TestBackend(t *testing.T) {
	connect := NewTestContainer(t, testing.Short())
	b, err := NewBackend(BackendConfig{Connect: connect, MemoryStorage: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := t.Context()

	t.Run("stream config", func(t *testing.T) {
		si, err := b.stream.Info(ctx)
		require.NoError(t, err)
		require.Equal(t, defaultStreamName, si.Config.Name)
		require.Equal(t, []string{defaultSubjectPrefix + ".>"}, si.Config.Subjects)
	})

	t.Run("append and read", func(t *testing.T) {
		key := es.StreamKey{AggregateType: "account", AggregateID: "a1"}

		seq, err := b.Append(ctx, key, 0, testEnvelopes(key, 0, 3))
		require.NoError(t, err)
		require.NotZero(t, seq)

		_, err = b.Append(ctx, key, 3, testEnvelopes(key, 3, 2))
		require.NoError(t, err)

		all, err := b.ReadStream(ctx, key, 1)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, ev := range all {
			require.Equal(t, es.Version(i+1), ev.Version)
		}

		tail, err := b.ReadStream(ctx, key, 4)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		require.Equal(t, es.Version(4), tail[0].Version)
	})

	t.Run("version conflict", func(t *testing.T) {
		key := es.StreamKey{AggregateType: "account", AggregateID: "a2"}
		_, err := b.Append(ctx, key, 0, testEnvelopes(key, 0, 1))
		require.NoError(t, err)

		_, err = b.Append(ctx, key, 0, testEnvelopes(key, 0, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		var conflict *es.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, es.Version(1), conflict.Actual)

		events, err := b.ReadStream(ctx, key, 1)
		require.NoError(t, err)
		require.Len(t, events, 1, "rejected batch leaves no trace")
	})

	t.Run("non contiguous batch", func(t *testing.T) {
		key := es.StreamKey{AggregateType: "account", AggregateID: "a3"}
		events := testEnvelopes(key, 0, 2)
		events[1].Version = 5
		_, err := b.Append(ctx, key, 0, events)
		require.ErrorIs(t, err, es.ErrValidation)
	})

	t.Run("empty stream", func(t *testing.T) {
		events, err := b.ReadStream(ctx, es.StreamKey{AggregateType: "account", AggregateID: "missing"}, 1)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := b.ReadStream(ctx, es.StreamKey{AggregateType: "account", AggregateID: "a.b"}, 1)
		require.ErrorIs(t, err, es.ErrValidation)
	})

	t.Run("truncate keeps version", func(t *testing.T) {
		key := es.StreamKey{AggregateType: "account", AggregateID: "a4"}
		for v := es.Version(0); v < 6; v += 2 {
			_, err := b.Append(ctx, key, v, testEnvelopes(key, v, 2))
			require.NoError(t, err)
		}

		removed, err := b.Truncate(ctx, key, 3)
		require.NoError(t, err)
		require.Equal(t, 2, removed, "only whole batches are purged")

		events, err := b.ReadStream(ctx, key, 1)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), events[0].Version)
		require.Equal(t, es.Version(6), events[len(events)-1].Version)

		removed, err = b.Truncate(ctx, key, 100)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		events, err = b.ReadStream(ctx, key, 1)
		require.NoError(t, err)
		require.Len(t, events, 2, "newest batch survives")

		_, err = b.Append(ctx, key, 6, testEnvelopes(key, 6, 1))
		require.NoError(t, err)
	})

	t.Run("read all", func(t *testing.T) {
		all, err := b.ReadAll(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		for i := 1; i < len(all); i++ {
			require.LessOrEqual(t, all[i-1].Seq, all[i].Seq)
		}
	})
}

func TestBackend_DurableStore(t *testing.T) {
	connect := NewTestContainer(t, testing.Short())
	b, err := NewBackend(BackendConfig{Connect: connect, StreamName: "durable", SubjectPrefix: "durable", MemoryStorage: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	store := es.NewDurableStore(b)
	key := es.StreamKey{AggregateType: "account", AggregateID: "d1"}

	_, err = store.SaveEvents(t.Context(), key.AggregateType, key.AggregateID, 0, testEnvelopes(key, 0, 2))
	require.NoError(t, err)

	events, err := store.GetEvents(t.Context(), key.AggregateType, key.AggregateID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}
