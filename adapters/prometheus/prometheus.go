// Package prometheus implements the metrics interfaces of the event store,
// the command bus and the archive service with Prometheus collectors.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/aggstore/core/metrics"
)

const namespace = "aggstore"

// observe starts a timer that records seconds into o.
func observe(o prometheus.Observer) metrics.Timer { return metrics.HistogramTimer(o) }

// latency buckets in seconds
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics bundles the collectors of every component.
type AllMetrics struct {
	ES      *esMetrics
	Command *commandMetrics
	Archive *archiveMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:      newESMetrics(reg),
		Command: newCommandMetrics(reg),
		Archive: newArchiveMetrics(reg),
	}
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
