package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records operation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Name:      "operations_total",
				Help:      "Settled store operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "storefront",
				Name:      "operation_duration_seconds",
				Help:      "Time from dispatch to settlement.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"operation"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "storefront",
				Name:      "operations_inflight",
				Help:      "Operations dispatched but not yet settled.",
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.inflight)
	}
	return m
}

func (m *Metrics) dispatched(op Op) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) settled(op Op, phase Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(op)).Dec()
	m.operations.WithLabelValues(string(op), phase.String()).Inc()
	m.duration.WithLabelValues(string(op)).Observe(d.Seconds())
}
