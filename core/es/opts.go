package es

import (
	"context"
	"log/slog"

	"github.com/codewandler/aggstore/core/cache"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	LogOption         struct{ l *slog.Logger }
	ContextOption     struct{ ctx context.Context }
	StoreOption       valueOption[EventStore]
	SnapshotterOption valueOption[Snapshotter]
	SnapshotOption    valueOption[bool]
	CompressorOption  valueOption[*Compressor]
	SnapshotFrequency valueOption[int]
	StreamCacheOption valueOption[cache.Cache]
	RulesOption       valueOption[*Rules]
	PublisherOption   valueOption[Publisher]
	StateStoreOption  valueOption[StateStore]
	RecovererOption   valueOption[ArchiveRecoverer]

	AggregateOption struct {
		aggregates []Aggregate
	}
	EventRegisterOption struct {
		t    string
		ctor func() any
	}
	EnvOpts MultiOption[EnvOption]
)

func WithLog(l *slog.Logger) LogOption                        { return LogOption{l: l} }
func WithCtx(ctx context.Context) ContextOption               { return ContextOption{ctx: ctx} }
func WithStore(s EventStore) StoreOption                      { return StoreOption{v: s} }
func WithSnapshotter(s Snapshotter) SnapshotterOption         { return SnapshotterOption{v: s} }
func WithSnapshot(enabled bool) SnapshotOption                { return SnapshotOption{v: enabled} }
func WithCompressor(c *Compressor) CompressorOption           { return CompressorOption{v: c} }
func WithCompressionThreshold(n int) CompressorOption         { return CompressorOption{v: NewCompressor(n)} }
func WithSnapshotFrequency(every int) SnapshotFrequency       { return SnapshotFrequency{v: every} }
func WithStreamCache(c cache.Cache) StreamCacheOption         { return StreamCacheOption{v: c} }
func WithRules(r *Rules) RulesOption                          { return RulesOption{v: r} }
func WithPublisher(p Publisher) PublisherOption               { return PublisherOption{v: p} }
func WithStateStore(s StateStore) StateStoreOption            { return StateStoreOption{v: s} }
func WithArchiveRecoverer(r ArchiveRecoverer) RecovererOption { return RecovererOption{v: r} }
func WithAggregates(a ...Aggregate) AggregateOption           { return AggregateOption{aggregates: a} }
func WithEnvOpts(opts ...EnvOption) EnvOpts                   { return EnvOpts{opts: opts} }
func WithEvent[T any]() EventRegisterOption {
	return EventRegisterOption{t: EventTypeOf(new(T)), ctor: func() any { return any(new(T)) }}
}
