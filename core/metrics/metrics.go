// Package metrics holds the small instrumentation interfaces shared by the
// event store, repository, command bus and archive job. Backends such as
// Prometheus live in adapters; core code only ever sees these types.
package metrics

import "time"

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge tracks a value that moves both ways, e.g. commands in flight.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

type Histogram interface {
	Observe(value float64)
}

// Timer is started on creation; ObserveDuration records the elapsed time.
//
//	defer m.StoreAppendDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// FuncTimer returns a Timer that reports the elapsed time to fn.
func FuncTimer(fn func(time.Duration)) Timer {
	return &funcTimer{start: time.Now(), fn: fn}
}

type funcTimer struct {
	start time.Time
	fn    func(time.Duration)
}

func (t *funcTimer) ObserveDuration() {
	if t.fn != nil {
		t.fn(time.Since(t.start))
	}
}

// HistogramTimer observes elapsed seconds into h.
func HistogramTimer(h Histogram) Timer {
	return FuncTimer(func(d time.Duration) { h.Observe(d.Seconds()) })
}
