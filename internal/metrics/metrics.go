// Package metrics holds the Prometheus instruments of the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crosspost"

type Registry struct {
	// Publish worker
	PublishAttempts *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	TicksSkipped    prometheus.Counter
	DueItems        prometheus.Gauge
	SchemaDrift     prometheus.Counter
	MirrorEnqueued  *prometheus.CounterVec

	// Timeline
	ExternalFailures      *prometheus.CounterVec
	ExternalUnknownStatus *prometheus.CounterVec
	ExternalFetchDuration *prometheus.HistogramVec

	// Credits
	CreditReconciliations *prometheus.CounterVec
	CreditsCharged        prometheus.Counter
}

// NewRegistry registers every instrument with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		PublishAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "publish_attempts_total",
				Help:      "Publish attempts by outcome (completed, retry, failed, skipped)",
			},
			[]string{"outcome"},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "tick_duration_seconds",
				Help:      "Duration of one due-tick",
				Buckets:   prometheus.DefBuckets,
			},
		),

		TicksSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "ticks_skipped_total",
				Help:      "Ticks skipped because another replica holds the lease",
			},
		),

		DueItems: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "due_items",
				Help:      "Items selected by the last tick",
			},
		),

		SchemaDrift: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "schema_drift_total",
				Help:      "Status updates retried without the retry columns",
			},
		),

		MirrorEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "mirror_enqueued_total",
				Help:      "Cross-post mirror tasks handed off by result",
			},
			[]string{"result"},
		),

		ExternalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timeline",
				Name:      "external_source_failures_total",
				Help:      "Foreign source reads that failed and degraded to empty",
			},
			[]string{"source"},
		),

		ExternalUnknownStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timeline",
				Name:      "external_unknown_status_total",
				Help:      "Foreign rows skipped because their status is not recognized",
			},
			[]string{"source"},
		),

		ExternalFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "timeline",
				Name:      "external_fetch_duration_seconds",
				Help:      "Latency of foreign source reads",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		CreditReconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "reconciliations_total",
				Help:      "Generation reconciliations by outcome",
			},
			[]string{"outcome"},
		),

		CreditsCharged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "charged_total",
				Help:      "Credits charged after reconciliation",
			},
		),
	}
}
