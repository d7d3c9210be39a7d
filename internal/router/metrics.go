package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/n0madic/go-modelgate/internal/upstream"
)

const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeUnsupported = "unsupported"
)

// Metrics holds Prometheus metrics for dispatch.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
}

// NewMetrics creates the dispatch metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_dispatch_total",
				Help: "Total number of dispatched chat requests",
			},
			[]string{"backend", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelgate_dispatch_duration_seconds",
				Help:    "Time until a backend returned a result or the first stream handle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.DispatchTotal, m.DispatchDuration)
	}
	return m
}

func (m *Metrics) observe(backend upstream.Backend, outcome string, started time.Time) {
	if m == nil {
		return
	}
	label := string(backend)
	if label == "" {
		label = "none"
	}
	m.DispatchTotal.WithLabelValues(label, outcome).Inc()
	if outcome != outcomeUnsupported {
		m.DispatchDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	}
}
