package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recHistogram struct{ values []float64 }

func (h *recHistogram) Observe(v float64) { h.values = append(h.values, v) }

func TestFuncTimer(t *testing.T) {
	var got time.Duration
	tm := FuncTimer(func(d time.Duration) { got = d })
	time.Sleep(5 * time.Millisecond)
	tm.ObserveDuration()
	require.GreaterOrEqual(t, got, 5*time.Millisecond)
}

func TestHistogramTimer(t *testing.T) {
	h := &recHistogram{}
	HistogramTimer(h).ObserveDuration()
	require.Len(t, h.values, 1)
	require.GreaterOrEqual(t, h.values[0], 0.0)
}

func TestNop(t *testing.T) {
	require.NotPanics(t, func() {
		NopCounter().Add(1)
		NopGauge().Dec()
		NopHistogram().Observe(1)
		NopTimer().ObserveDuration()
	})
}
