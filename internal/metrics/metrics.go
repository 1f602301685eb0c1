// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Validations        *prometheus.CounterVec
	DuplicateProofs    prometheus.Counter
	ExternalFailures   prometheus.Counter
	PendingReviews     prometheus.Gauge
	EscalatedReviews   prometheus.Counter
	ResumesCompiled    prometheus.Counter
	RemediationsOpened prometheus.Counter
}

// New registers the proofgate collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "validations_total",
			Help:      "Validation outcomes by validator type and status.",
		}, []string{"validator", "status"}),
		DuplicateProofs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "duplicate_proofs_total",
			Help:      "Submissions rejected because the identical proof was seen before.",
		}),
		ExternalFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "external_lookup_failures_total",
			Help:      "Repository host lookups that failed during validation.",
		}),
		PendingReviews: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "proofgate",
			Name:      "pending_reviews",
			Help:      "Reviews currently waiting for a decision.",
		}),
		EscalatedReviews: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "escalated_reviews_total",
			Help:      "Reviews escalated after missing their SLA.",
		}),
		ResumesCompiled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "resumes_compiled_total",
			Help:      "Resume versions compiled.",
		}),
		RemediationsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proofgate",
			Name:      "remediations_opened_total",
			Help:      "Remediation proposals recorded by stagnation analysis.",
		}),
	}
}
