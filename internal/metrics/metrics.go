// Package metrics holds the prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txengine"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Validations   *prometheus.CounterVec
	Executions    *prometheus.CounterVec
	PowAttempts   prometheus.Counter
	PowSearches   *prometheus.CounterVec
	PowSearchTime prometheus.Histogram
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "results_total",
			Help:      "Validation outcomes by transaction type and result kind",
		}, []string{"type", "result"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "results_total",
			Help:      "Execution outcomes by transaction type and result kind",
		}, []string{"type", "result"}),
		PowAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "attempts_total",
			Help:      "Nonce candidates hashed by proof-of-work searches",
		}),
		PowSearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "searches_total",
			Help:      "Proof-of-work searches by outcome",
		}, []string{"result"}),
		PowSearchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "search_duration_seconds",
			Help:      "Wall time of proof-of-work searches",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.Validations, m.Executions, m.PowAttempts, m.PowSearches, m.PowSearchTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveValidation records a validation outcome
func (m *Metrics) ObserveValidation(txType, result string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(txType, result).Inc()
}

// ObserveExecution records an execution outcome
func (m *Metrics) ObserveExecution(txType, result string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(txType, result).Inc()
}

// ObserveSearch records a finished proof-of-work search
func (m *Metrics) ObserveSearch(result string, attempts uint64, seconds float64) {
	if m == nil {
		return
	}
	m.PowAttempts.Add(float64(attempts))
	m.PowSearches.WithLabelValues(result).Inc()
	m.PowSearchTime.Observe(seconds)
}
