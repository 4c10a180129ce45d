package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggstore/core/command"
)

type commandMetrics struct {
	duration  *prometheus.HistogramVec
	processed *prometheus.CounterVec
	inflight  prometheus.Gauge
}

func NewCommandMetrics(reg prometheus.Registerer) command.Metrics { return newCommandMetrics(reg) }

func newCommandMetrics(reg prometheus.Registerer) *commandMetrics {
	m := &commandMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command dispatch latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"command_type", "result"}),

		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by result",
		}, []string{"command_type", "result"}),

		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_inflight",
			Help:      "Async commands currently running",
		}),
	}
	reg.MustRegister(m.duration, m.processed, m.inflight)
	return m
}

func (m *commandMetrics) CommandDuration(cmdType, result string, d time.Duration) {
	m.duration.WithLabelValues(cmdType, result).Observe(d.Seconds())
}

func (m *commandMetrics) CommandProcessed(cmdType, result string) {
	m.processed.WithLabelValues(cmdType, result).Inc()
}

func (m *commandMetrics) CommandsInflight(n int) { m.inflight.Set(float64(n)) }

var _ command.Metrics = (*commandMetrics)(nil)
