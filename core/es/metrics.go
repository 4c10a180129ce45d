package es

import "github.com/codewandler/aggstore/core/metrics"

type (
	// StoreMetrics instruments an EventStore. aggType labels every series.
	StoreMetrics interface {
		StoreLoadDuration(aggType string) metrics.Timer
		StoreAppendDuration(aggType string) metrics.Timer
		EventsAppended(aggType string, count int)
		EventsCompressed(aggType string, before, after int)
	}

	RepoMetrics interface {
		RepoLoadDuration(aggType string) metrics.Timer
		RepoSaveDuration(aggType string) metrics.Timer
		ConcurrencyConflict(aggType string)
		CacheHit(aggType string)
		CacheMiss(aggType string)
	}

	SnapshotMetrics interface {
		SnapshotLoadDuration(aggType string) metrics.Timer
		SnapshotSaveDuration(aggType string) metrics.Timer
		SnapshotFailed(aggType string)
	}

	// ESMetrics is everything the store, the repository and the event bus
	// report. Implementations must be safe for concurrent use.
	ESMetrics interface {
		StoreMetrics
		RepoMetrics
		SnapshotMetrics
		EventsPublished(eventType string, success bool)
	}
)

func NopESMetrics() ESMetrics { return nopESMetrics{} }

type nopESMetrics struct{}

func nopTimer(string) metrics.Timer { return metrics.NopTimer() }

func (nopESMetrics) StoreLoadDuration(t string) metrics.Timer    { return nopTimer(t) }
func (nopESMetrics) StoreAppendDuration(t string) metrics.Timer  { return nopTimer(t) }
func (nopESMetrics) RepoLoadDuration(t string) metrics.Timer     { return nopTimer(t) }
func (nopESMetrics) RepoSaveDuration(t string) metrics.Timer     { return nopTimer(t) }
func (nopESMetrics) SnapshotLoadDuration(t string) metrics.Timer { return nopTimer(t) }
func (nopESMetrics) SnapshotSaveDuration(t string) metrics.Timer { return nopTimer(t) }

func (nopESMetrics) EventsAppended(string, int)        {}
func (nopESMetrics) EventsCompressed(string, int, int) {}
func (nopESMetrics) ConcurrencyConflict(string)        {}
func (nopESMetrics) CacheHit(string)                   {}
func (nopESMetrics) CacheMiss(string)                  {}
func (nopESMetrics) SnapshotFailed(string)             {}
func (nopESMetrics) EventsPublished(string, bool)      {}

// ESMetricsOption applies to NewEnv, repositories, stores and the event bus.
type ESMetricsOption struct{ m ESMetrics }

func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{m: m} }

func (o ESMetricsOption) applyToEnv(e *envOptions)      { e.metrics = o.m }
func (o ESMetricsOption) applyToRepository(r *repoOpts) { r.metrics = o.m }
func (o ESMetricsOption) applyToEventBus(b *busOpts)    { b.metrics = o.m }
