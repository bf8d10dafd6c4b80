package auditfetch

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsObserver exports call counts and latencies to Prometheus.
type MetricsObserver struct {
	calls      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations *prometheus.CounterVec
}

func NewMetricsObserver(reg prometheus.Registerer, namespace string) *MetricsObserver {
	factory := promauto.With(reg)

	return &MetricsObserver{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auditfetch",
				Name:      "calls_total",
				Help:      "Audited calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auditfetch",
				Name:      "call_duration_seconds",
				Help:      "Audited call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auditfetch",
				Name:      "provenance_violations_total",
				Help:      "Responses that broke the request-id contract, by host",
			},
			[]string{"host"},
		),
	}
}

func (m *MetricsObserver) ObserveCall(_ context.Context, record CallRecord) {
	m.calls.WithLabelValues(record.Method, string(record.Outcome)).Inc()
	m.duration.WithLabelValues(string(record.Outcome)).Observe(record.Duration.Seconds())

	if record.Outcome == OutcomeProvenanceViolation {
		m.violations.WithLabelValues(hostOf(record.URL)).Inc()
	}
}
