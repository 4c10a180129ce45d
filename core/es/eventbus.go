package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrHandlerTimeout = errors.New("event handlers timed out")

// Publisher receives envelopes after they were durably committed.
type Publisher interface {
	Publish(ctx context.Context, envs []Envelope) error
}

type PublisherFunc func(ctx context.Context, envs []Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, envs []Envelope) error { return f(ctx, envs) }

// Publishers hands envelopes to each publisher in turn and stops at the
// first error.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, envs []Envelope) error {
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, envs); err != nil {
			return err
		}
	}
	return nil
}

type ExecutionOrder int

const (
	// Sequential runs subscribers one by one and stops at the first error.
	Sequential ExecutionOrder = iota
	// Parallel runs all subscribers of an event concurrently and waits for
	// them up to the handler timeout.
	Parallel
)

func (o ExecutionOrder) String() string {
	if o == Parallel {
		return "parallel"
	}
	return "sequential"
}

const AllEvents = "*"

type (
	busOpts struct {
		log         *slog.Logger
		order       ExecutionOrder
		timeout     time.Duration
		metrics     ESMetrics
		decoder     Decoder
		middlewares []HandlerMiddleware
	}

	EventBusOption interface{ applyToEventBus(*busOpts) }

	ExecutionOrderOption valueOption[ExecutionOrder]
	HandlerTimeoutOption valueOption[time.Duration]
	DecoderOption        valueOption[Decoder]
	MiddlewareOption     MultiOption[HandlerMiddleware]
)

func WithExecutionOrder(o ExecutionOrder) ExecutionOrderOption { return ExecutionOrderOption{v: o} }
func WithHandlerTimeout(d time.Duration) HandlerTimeoutOption  { return HandlerTimeoutOption{v: d} }
func WithDecoder(d Decoder) DecoderOption                      { return DecoderOption{v: d} }
func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{opts: mws}
}

func (o LogOption) applyToEventBus(b *busOpts)            { b.log = o.l }
func (o ExecutionOrderOption) applyToEventBus(b *busOpts) { b.order = o.v }
func (o HandlerTimeoutOption) applyToEventBus(b *busOpts) { b.timeout = o.v }
func (o DecoderOption) applyToEventBus(b *busOpts)        { b.decoder = o.v }
func (o MiddlewareOption) applyToEventBus(b *busOpts) {
	b.middlewares = append(b.middlewares, o.opts...)
}

// EventBus fans published envelopes out to in-process subscribers, in the
// order they were committed.
type EventBus struct {
	busOpts
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewEventBus(opts ...EventBusOption) *EventBus {
	options := busOpts{
		log:     slog.Default(),
		timeout: 30 * time.Second,
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEventBus(&options)
	}
	options.log = options.log.With(slog.String("bus", options.order.String()))
	return &EventBus{busOpts: options, subs: map[string][]Handler{}}
}

// Subscribe registers h for one event type, or for all with AllEvents.
func (b *EventBus) Subscribe(eventType string, h Handler, mws ...HandlerMiddleware) {
	h = applyMiddlewares(h, append(append([]HandlerMiddleware{}, b.middlewares...), mws...))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

func (b *EventBus) handlers(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.subs[eventType])+len(b.subs[AllEvents]))
	out = append(out, b.subs[eventType]...)
	return append(out, b.subs[AllEvents]...)
}

func (b *EventBus) Publish(ctx context.Context, envs []Envelope) error {
	for _, ev := range envs {
		err := b.publish(ctx, ev)
		b.metrics.EventsPublished(ev.Type, err == nil)
		if err != nil {
			return fmt.Errorf("publish %s: %w", ev.ID, err)
		}
	}
	return nil
}

func (b *EventBus) publish(ctx context.Context, ev Envelope) error {
	hs := b.handlers(ev.Type)
	if len(hs) == 0 {
		return nil
	}

	msgCtx := MsgCtx{ctx: ctx, ev: ev, log: b.log.With(ev.logAttrs())}
	if b.decoder != nil {
		evt, err := b.decoder.Decode(ev)
		if err != nil && !errors.Is(err, ErrUnknownEventType) {
			return err
		}
		msgCtx.evt = evt
	}

	if b.order == Sequential {
		for _, h := range hs {
			if err := h.Handle(msgCtx); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	msgCtx.ctx = gctx
	for _, h := range hs {
		g.Go(func() error { return h.Handle(msgCtx) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		b.log.Warn("handlers did not finish in time", slog.Duration("timeout", b.timeout))
		return ErrHandlerTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Publisher = (*EventBus)(nil)
