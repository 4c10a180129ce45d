package stack

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/core/archive"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/internal/config"
)

func envelope(aggID string, v es.Version) es.Envelope {
	return es.Envelope{
		ID:            uuid.NewString(),
		Version:       v,
		AggregateType: "account",
		AggregateID:   aggID,
		Type:          "account.deposited",
		OccurredAt:    time.Now().UTC(),
		Data:          json.RawMessage(`{"amount":1}`),
	}
}

func open(t *testing.T, environ map[string]string) *Stack {
	t.Helper()
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	st, err := Open(nil, cfg, es.NopESMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		states  bool
	}{
		{name: "memory", environ: map[string]string{"AGGSTORE_BACKEND": "memory"}},
		{
			name: "sql",
			environ: map[string]string{
				"AGGSTORE_BACKEND": "sql",
				"AGGSTORE_SQL_DSN": fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
			},
			states: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := open(t, tc.environ)
			require.NotNil(t, st.Store)
			require.NotNil(t, st.Snapshotter)
			require.NotNil(t, st.Idempotency)
			require.NotNil(t, st.Archive)
			require.Nil(t, st.Publisher)
			require.Equal(t, tc.states, st.States != nil)

			ctx := t.Context()
			_, err := st.Store.SaveEvents(ctx, "account", "a1", 0, []es.Envelope{envelope("a1", 1), envelope("a1", 2)})
			require.NoError(t, err)
			events, err := st.Store.GetEvents(ctx, "account", "a1")
			require.NoError(t, err)
			require.Len(t, events, 2)

			ok, err := st.Idempotency.SetIfAbsent(ctx, "k", "v", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			n, err := archive.NewService(st.Archive).ArchiveEvents(ctx, events[:1])
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestOpen_RedisUnreachable(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"AGGSTORE_REDIS_ADDR": "127.0.0.1:1"})
	require.NoError(t, err)

	_, err = Open(nil, cfg, es.NopESMetrics())
	require.Error(t, err)
}
