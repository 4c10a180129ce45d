// Package api serves commands and aggregate reads over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
)

// ExecuteCommandRequestBody is the body of a command request. CommandID is
// optional; clients that retry should send the same id every time.
type ExecuteCommandRequestBody[PAYLOAD any] struct {
	CommandID string  `json:"command_id,omitempty"`
	Data      PAYLOAD `json:"data"`
}

type ExecuteCommandResponse struct {
	CommandID   string `json:"command_id"`
	CommandType string `json:"command_type"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

type AggregateResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	State   any    `json:"state"`
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Command returns a handler that decodes the payload, builds the command for
// the aggregate in the :id path parameter and dispatches it on bus.
func Command[PAYLOAD any, C command.Command](bus *command.Bus, build func(meta command.Meta, payload PAYLOAD) C) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body ExecuteCommandRequestBody[PAYLOAD]
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}

		meta := command.NewMeta(c.Param("id"))
		if body.CommandID != "" {
			meta.ID = body.CommandID
		}

		res, err := bus.DispatchResult(c.Request.Context(), build(meta, body.Data))
		if err != nil {
			status, code := StatusOf(err)
			RespondError(c, status, code, err)
			return
		}
		c.JSON(http.StatusOK, ExecuteCommandResponse{
			CommandID:   res.CommandID,
			CommandType: res.CommandType,
			Duplicate:   res.Duplicate,
			DurationMs:  res.Duration.Milliseconds(),
		})
	}
}

// Get returns a handler that loads the aggregate in the :id path parameter.
func Get[T es.Aggregate](repo es.TypedRepository[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			status, code := StatusOf(err)
			RespondError(c, status, code, err)
			return
		}
		c.JSON(http.StatusOK, AggregateResponse{
			ID:      agg.GetID(),
			Type:    agg.GetAggType(),
			Version: agg.GetVersion().Uint64(),
			State:   agg,
		})
	}
}

// StatusOf maps an engine error to an HTTP status and an error code.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, es.ErrAggregateNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, es.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, es.ErrAggregateDeleted):
		return http.StatusGone, "deleted"
	case errors.Is(err, es.ErrValidation):
		return http.StatusUnprocessableEntity, "invalid"
	case errors.Is(err, command.ErrNoHandler):
		return http.StatusNotImplemented, "no_handler"
	case errors.Is(err, command.ErrDuplicateCommand):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, command.ErrBusClosed), errors.Is(err, es.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}
