package es

import (
	"context"
	"log/slog"
)

type (
	envOptions struct {
		ctx         context.Context
		log         *slog.Logger
		snapshotter Snapshotter
		store       EventStore
		events      []EventRegisterOption
		aggregates  []Aggregate
		metrics     ESMetrics
		rules       *Rules
		stateStore  StateStore
		recoverer   ArchiveRecoverer
		busOpts     []EventBusOption
		repoOpts    []RepositoryOption
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}

	EnvBusOption  MultiOption[EventBusOption]
	EnvRepoOption MultiOption[RepositoryOption]
)

func WithBusOpts(opts ...EventBusOption) EnvBusOption     { return EnvBusOption{opts: opts} }
func WithRepoOpts(opts ...RepositoryOption) EnvRepoOption { return EnvRepoOption{opts: opts} }
func (o EnvBusOption) applyToEnv(e *envOptions)           { e.busOpts = append(e.busOpts, o.opts...) }
func (o EnvRepoOption) applyToEnv(e *envOptions)          { e.repoOpts = append(e.repoOpts, o.opts...) }
func (o ContextOption) applyToEnv(e *envOptions)          { e.ctx = o.ctx }
func (o LogOption) applyToEnv(e *envOptions)              { e.log = o.l }
func (o StoreOption) applyToEnv(e *envOptions)            { e.store = o.v }
func (o SnapshotterOption) applyToEnv(e *envOptions)      { e.snapshotter = o.v }
func (o AggregateOption) applyToEnv(e *envOptions)        { e.aggregates = append(e.aggregates, o.aggregates...) }
func (o EventRegisterOption) applyToEnv(e *envOptions)    { e.events = append(e.events, o) }
func (o RulesOption) applyToEnv(e *envOptions)            { e.rules = o.v }
func (o StateStoreOption) applyToEnv(e *envOptions)       { e.stateStore = o.v }
func (o RecovererOption) applyToEnv(e *envOptions)        { e.recoverer = o.v }
func (o ExecutionOrderOption) applyToEnv(e *envOptions)   { e.busOpts = append(e.busOpts, o) }
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:     context.Background(),
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore(WithLog(options.log), WithMetrics(options.metrics))
	}
	return options
}
