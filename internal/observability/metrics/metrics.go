package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/histograms for the appointment queue.
type QueueMetrics struct {
	allocationsTotal     *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	consultationDuration prometheus.Histogram
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		allocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicq",
			Subsystem: "queue",
			Name:      "token_allocations_total",
			Help:      "Total token allocation attempts",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicq",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Total appointment state transitions",
		}, []string{"action", "outcome"}),
		consultationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicq",
			Subsystem: "queue",
			Name:      "consultation_duration_seconds",
			Help:      "Observed consultation durations",
			Buckets:   []float64{60, 180, 300, 600, 900, 1800, 3600},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.allocationsTotal, m.transitionsTotal, m.consultationDuration)
	return m
}

func (m *QueueMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(outcome).Inc()
}

func (m *QueueMetrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *QueueMetrics) ObserveConsultationDuration(seconds float64) {
	if m == nil {
		return
	}
	m.consultationDuration.Observe(seconds)
}
