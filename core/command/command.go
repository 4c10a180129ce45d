// Package command dispatches commands to exactly one registered handler
// after deduplication and validation. Events persisted by the handler are
// published only once the handler succeeded.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/internal/reflector"
)

var (
	ErrNoHandler                = errors.New("no handler registered")
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")
	ErrDuplicateCommand         = errors.New("duplicate command")
	ErrBusClosed                = errors.New("command bus closed")
)

// Meta is embedded by every command.
type Meta struct {
	ID          string    `json:"command_id"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateID string    `json:"aggregate_id,omitempty"`
}

func (m Meta) CommandMeta() Meta { return m }

// NewMeta stamps a fresh command id and the current time.
func NewMeta(aggregateID string) Meta {
	return Meta{ID: uuid.NewString(), Timestamp: time.Now().UTC(), AggregateID: aggregateID}
}

type Command interface {
	CommandMeta() Meta
}

// TypeOf returns the registry key of cmd, e.g. "bank.Deposit".
func TypeOf(cmd Command) string { return reflector.TypeInfoOf(cmd).Name }

func typeFor[C Command]() string { return reflector.TypeInfoFor[C]().Name }

func cmdAttrs(typ string, meta Meta) slog.Attr {
	return slog.Group(
		"cmd",
		slog.String("type", typ),
		slog.String("id", meta.ID),
		slog.String("aggregate_id", meta.AggregateID),
	)
}

// IllegalStateError is returned when the bus cannot route a command.
type IllegalStateError struct {
	CommandType string
	Err         error
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state for command %s: %v", e.CommandType, e.Err)
}

func (e *IllegalStateError) Unwrap() error { return e.Err }

// ValidationError is returned when a command is rejected before reaching
// its handler. It matches es.ErrValidation.
type ValidationError struct {
	CommandType string
	Field       string
	Reason      string
	Err         error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid command %s", e.CommandType)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{es.ErrValidation}
	}
	return []error{es.ErrValidation, e.Err}
}
