package es

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codewandler/aggstore/core/retry"
)

// MsgCtx is handed to a subscriber once per published envelope.
type MsgCtx struct {
	ctx context.Context
	log *slog.Logger
	ev  Envelope
	evt any
}

func (m MsgCtx) Context() context.Context { return m.ctx }
func (m MsgCtx) Log() *slog.Logger        { return m.log }
func (m MsgCtx) Envelope() Envelope       { return m.ev }

// Event is the decoded payload. It is nil when the bus has no registry or
// the registry does not know the type.
func (m MsgCtx) Event() any { return m.evt }

func (m MsgCtx) Seq() uint64           { return m.ev.Seq }
func (m MsgCtx) Type() string          { return m.ev.Type }
func (m MsgCtx) Data() json.RawMessage { return m.ev.Data }
func (m MsgCtx) AggregateType() string { return m.ev.AggregateType }
func (m MsgCtx) AggregateID() string   { return m.ev.AggregateID }
func (m MsgCtx) Version() Version      { return m.ev.Version }
func (m MsgCtx) OccurredAt() time.Time { return m.ev.OccurredAt }

// Handler consumes events from an EventBus.
type Handler interface {
	Handle(msgCtx MsgCtx) error
}

type HandleFunc func(msgCtx MsgCtx) error

func (f HandleFunc) Handle(msgCtx MsgCtx) error { return f(msgCtx) }

type (
	// HandlerMiddleware decorates a Handler. The first middleware of a chain
	// sees the event first.
	HandlerMiddleware func(next Handler) Handler

	// MiddlewareHandleFunc is the body of a middleware. It decides if and
	// when next runs.
	MiddlewareHandleFunc func(msgCtx MsgCtx, next Handler) error
)

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return HandleFunc(func(msgCtx MsgCtx) error { return mw(msgCtx, next) })
	}
}

func applyMiddlewares(h Handler, chain []HandlerMiddleware) Handler {
	for i := range chain {
		h = chain[len(chain)-1-i](h)
	}
	return h
}

// NewLogMiddleware logs every handled event at debug and every failure at
// error level, with attrs added to the event's logger.
func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) error {
		start := time.Now()
		err := next.Handle(msgCtx)
		log := msgCtx.Log().With(attrs...).With(slog.Duration("took", time.Since(start)))
		if err != nil {
			log.Error("event handler failed", slog.Any("error", err))
			return err
		}
		log.Debug("event handled")
		return nil
	})
}

// NewRetryMiddleware re-runs a failing handler according to s. Validation
// and state errors are not retried unless s brings its own classifier.
func NewRetryMiddleware(s retry.Strategy) HandlerMiddleware {
	if s.Retryable == nil {
		s.Retryable = IsRetryable
	}
	return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) error {
		attempt := 0
		return retry.Do(msgCtx.Context(), s, func(context.Context) error {
			if attempt++; attempt > 1 {
				msgCtx.Log().Debug("retrying event handler", slog.Int("attempt", attempt))
			}
			return next.Handle(msgCtx)
		})
	})
}
