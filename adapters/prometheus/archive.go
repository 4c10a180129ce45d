package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggstore/core/archive"
)

type archiveMetrics struct {
	archived *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewArchiveMetrics(reg prometheus.Registerer) archive.Metrics { return newArchiveMetrics(reg) }

func newArchiveMetrics(reg prometheus.Registerer) *archiveMetrics {
	m := &archiveMetrics{
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_archived_total",
			Help:      "Events moved to the archive",
		}, []string{"aggregate_type"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Failed archive and recovery operations",
		}, []string{"op"}),
	}
	reg.MustRegister(m.archived, m.failures)
	return m
}

func (m *archiveMetrics) EventsArchived(aggType string, count int) {
	m.archived.WithLabelValues(aggType).Add(float64(count))
}

func (m *archiveMetrics) ArchiveFailed(op string) { m.failures.WithLabelValues(op).Inc() }

var _ archive.Metrics = (*archiveMetrics)(nil)
