package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/adapters/api"
	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/estests/domain"
)

type incCmd struct {
	command.Meta
	By int `validate:"gt=0"`
}

type incPayload struct {
	By int `json:"by"`
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	te := es.StartTestEnv(t, es.WithAggregates(new(domain.TestAgg)))
	repo := es.EnvRepository[*domain.TestAgg](te.Env)

	bus := command.NewBus(command.WithPublisher(te.Bus()))
	t.Cleanup(bus.Close)
	command.MustRegister(bus, func(ctx context.Context, cmd incCmd) error {
		return repo.WithTransaction(ctx, cmd.AggregateID, func(a *domain.TestAgg) error {
			return a.IncBy(cmd.By)
		}, es.WithCreate())
	})

	r := api.NewRouter(slog.Default())
	r.POST("/counters/:id/inc", api.Command(bus, func(m command.Meta, p incPayload) incCmd {
		return incCmd{Meta: m, By: p.By}
	}))
	r.GET("/counters/:id", api.Get(repo))
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPI(t *testing.T) {
	r := newServer(t)

	t.Run("health", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("command and read", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/counters/c1/inc", `{"data":{"by":3}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res api.ExecuteCommandResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.NotEmpty(t, res.CommandID)
		require.False(t, res.Duplicate)

		rec = do(t, r, http.MethodGet, "/counters/c1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var agg struct {
			ID      string `json:"id"`
			Version uint64 `json:"version"`
			State   struct {
				Counter int `json:"counter"`
			} `json:"state"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
		require.Equal(t, "c1", agg.ID)
		require.Equal(t, 3, agg.State.Counter)
		require.NotZero(t, agg.Version)
	})

	t.Run("client command id deduplicates", func(t *testing.T) {
		body := `{"command_id":"fixed-1","data":{"by":1}}`
		require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/counters/c2/inc", body).Code)

		rec := do(t, r, http.MethodPost, "/counters/c2/inc", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var res api.ExecuteCommandResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.True(t, res.Duplicate)
	})

	t.Run("invalid command", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/counters/c3/inc", `{"data":{"by":0}}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var env api.ErrorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.Equal(t, "invalid", env.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/counters/c3/inc", `{"data":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/counters/missing", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{es.ErrAggregateNotFound, http.StatusNotFound},
		{es.NewConcurrencyConflict("t", "1", 0, 1), http.StatusConflict},
		{es.NewValidationError("amount", "must be positive"), http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", es.ErrAggregateDeleted), http.StatusGone},
		{command.ErrBusClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := api.StatusOf(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
	}
}
