package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MustRegisterMetrics registers the statement metrics on registry. It panics
// when metrics with the same names are already registered there.
func MustRegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(statementCounter, statementDuration)
}

func sampleStatement(kind Kind, status string, elapsed time.Duration) {
	labels := prometheus.Labels{
		"kind":   kind.String(),
		"status": status,
	}
	statementCounter.With(labels).Inc()
	statementDuration.With(labels).Observe(elapsed.Seconds())
}

var (
	statementCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbkit_statements_total",
			Help: "Total of executed statements",
		},
		[]string{"kind", "status"},
	)
	statementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dbkit_statement_duration_seconds",
			Help: "Duration of statement execution",
			Buckets: []float64{
				.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1,
				2.5, 5, 10, 30,
			},
		},
		[]string{"kind", "status"},
	)
)
