package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env bundles what an application needs to work with aggregates: the event
// store, an event registry, an in-process EventBus and a Repository that
// publishes committed events to that bus.
type Env struct {
	ctx         context.Context
	cancel      context.CancelFunc
	log         *slog.Logger
	store       EventStore
	snapshotter Snapshotter
	registry    *EventRegistry
	bus         *EventBus
	repo        Repository
}

func NewEnv(opts ...EnvOption) *Env {
	o := newEnvOptions(opts...)
	e := &Env{
		log:         o.log.With(slog.String("env", gonanoid.Must(6))),
		store:       o.store,
		snapshotter: o.snapshotter,
		registry:    NewRegistry(),
	}
	e.ctx, e.cancel = context.WithCancel(o.ctx)

	if e.snapshotter == nil {
		if src, ok := e.store.(SnapshotSource); ok {
			e.snapshotter = src.Snapshotter()
		}
	}

	for _, agg := range o.aggregates {
		agg.Register(e.registry)
		e.log.Debug("aggregate registered", slog.String("type", agg.GetAggType()))
	}
	for _, ev := range o.events {
		e.registry.Register(ev.t, ev.ctor)
	}

	e.bus = NewEventBus(append([]EventBusOption{
		WithLog(e.log),
		WithDecoder(e.registry),
		WithMetrics(o.metrics),
	}, o.busOpts...)...)
	e.repo = NewRepository(e.log, e.store, e.registry, e.repoOptions(o)...)
	return e
}

// repoOptions puts the env's own wiring first so WithRepoOpts can override
// it.
func (e *Env) repoOptions(o envOptions) []RepositoryOption {
	opts := []RepositoryOption{WithPublisher(e.bus), WithMetrics(o.metrics)}
	if e.snapshotter != nil {
		opts = append(opts, WithSnapshotter(e.snapshotter))
	}
	if o.rules != nil {
		opts = append(opts, WithRules(o.rules))
	}
	if o.stateStore != nil {
		opts = append(opts, WithStateStore(o.stateStore))
	}
	if o.recoverer != nil {
		opts = append(opts, WithArchiveRecoverer(o.recoverer))
	}
	return append(opts, o.repoOpts...)
}

func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Registry() *EventRegistry { return e.registry }
func (e *Env) Bus() *EventBus           { return e.bus }
func (e *Env) Context() context.Context { return e.ctx }

// Done is closed after Shutdown or once the parent context ends.
func (e *Env) Done() <-chan struct{} { return e.ctx.Done() }

// Shutdown cancels the env context. It is safe to call more than once.
func (e *Env) Shutdown() { e.cancel() }

// EnvRepository returns a typed repository backed by the env's repository.
// T's events are registered with the env's registry.
func EnvRepository[T Aggregate](e *Env) TypedRepository[T] {
	newAggregate[T]().Register(e.registry)
	return NewTypedRepositoryFrom[T](e.log, e.repo)
}

// Append writes raw events to a stream, bypassing aggregates and rules.
func (e *Env) Append(ctx context.Context, expect Version, aggType string, aggID string, events ...any) error {
	_, err := e.AppendWithResult(ctx, expect, aggType, aggID, events...)
	return err
}

func (e *Env) AppendWithResult(ctx context.Context, expect Version, aggType, aggID string, events ...any) (*StoreAppendResult, error) {
	envelopes := make([]Envelope, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", ev, err)
		}
		envelopes[i] = Envelope{
			ID:            gonanoid.Must(),
			Version:       expect + Version(i+1),
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          EventTypeOf(ev),
			OccurredAt:    now(),
			Collapsible:   IsCollapsible(ev),
			Data:          data,
		}
	}
	return e.store.SaveEvents(ctx, aggType, aggID, expect, envelopes)
}
