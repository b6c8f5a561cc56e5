package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// Operations counts terminal states. Labels: status.
	Operations *prometheus.CounterVec
	// Duration observes the wall time of executed operations.
	Duration prometheus.Histogram
	// Passes counts completed passes. Labels: result (ok, failed).
	Passes *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "operations_total",
			Help:      "Operations by terminal state",
		}, []string{"status"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiln",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of executed operations",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "passes_total",
			Help:      "Evaluation passes by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(o Outcome) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(string(o.Status)).Inc()
	if o.Status == StatusSucceeded || o.Status == StatusFailed {
		m.Duration.Observe(o.Duration.Seconds())
	}
}

func (m *Metrics) pass(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.Passes.WithLabelValues(result).Inc()
}
