package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/metrics"
)

type esMetrics struct {
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec
	compressedBefore    *prometheus.CounterVec
	compressedAfter     *prometheus.CounterVec

	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotFailures     *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
}

func NewESMetrics(reg prometheus.Registerer) es.ESMetrics { return newESMetrics(reg) }

func newESMetrics(reg prometheus.Registerer) *esMetrics {
	byAggType := []string{"aggregate_type"}
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_load_duration_seconds",
			Help:      "Event store load latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}, byAggType),

		compressedBefore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_input_events_total",
			Help:      "Events handed to the compressor",
		}, byAggType),

		compressedAfter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_output_events_total",
			Help:      "Events left after compression",
		}, byAggType),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of optimistic lock failures",
		}, byAggType),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, byAggType),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, byAggType),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_load_duration_seconds",
			Help:      "Snapshot load latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_save_duration_seconds",
			Help:      "Snapshot save latency in seconds",
			Buckets:   defaultBuckets,
		}, byAggType),

		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshots that could not be taken or saved",
		}, byAggType),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to subscribers",
		}, []string{"event_type", "success"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.compressedBefore,
		m.compressedAfter,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotFailures,
		m.eventsPublished,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return observe(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return observe(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) EventsCompressed(aggType string, before, after int) {
	m.compressedBefore.WithLabelValues(aggType).Add(float64(before))
	m.compressedAfter.WithLabelValues(aggType).Add(float64(after))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return observe(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return observe(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string)  { m.cacheHits.WithLabelValues(aggType).Inc() }
func (m *esMetrics) CacheMiss(aggType string) { m.cacheMisses.WithLabelValues(aggType).Inc() }

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return observe(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return observe(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotFailed(aggType string) {
	m.snapshotFailures.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) EventsPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
