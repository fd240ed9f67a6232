// Package metrics exports turn loop counters in the Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is created once per registry.
type Metrics struct {
	Registry *prometheus.Registry

	triggers *prometheus.CounterVec
	turns    *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	dropped  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "triggers_total",
			Help:      "Accepted triggers by kind.",
		}, []string{"kind"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "turns_total",
			Help:      "Finished turns by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		stages: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nova",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each turn stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nova",
			Name:      "dropped_chunks_total",
			Help:      "Audio chunks dropped because the detector fell behind.",
		}),
	}
}

// The recorders below accept a nil receiver so callers can run without
// metrics.

func (m *Metrics) Trigger(kind string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(kind).Inc()
}

func (m *Metrics) TurnOK() {
	if m == nil {
		return
	}
	m.turns.WithLabelValues("ok", "").Inc()
}

func (m *Metrics) TurnFailed(stage string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues("failed", stage).Inc()
}

func (m *Metrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}
