package probe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reconai/auditkit/auditstore"
)

type Metrics struct {
	rounds    prometheus.Counter
	results   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	compliant *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "rounds_total",
			Help:      "Completed probe rounds",
		}),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "results_total",
				Help:      "Probe results by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "latency_seconds",
				Help:      "Probe request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		compliant: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "compliant",
				Help:      "1 if the last probe of the target honored provenance",
			},
			[]string{"target"},
		),
	}
}

func (m *Metrics) observeRound(results []auditstore.ProbeResult) {
	m.rounds.Inc()

	for _, result := range results {
		m.results.WithLabelValues(result.Target, string(result.Outcome)).Inc()
		m.latency.WithLabelValues(result.Target).Observe(result.Latency.Seconds())

		value := 0.0
		if result.Compliant {
			value = 1
		}

		m.compliant.WithLabelValues(result.Target).Set(value)
	}
}
