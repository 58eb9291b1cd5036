// Package metrics provides Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowsSubmitted counts saga flows submitted to the queue.
	FlowsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "flows_submitted_total",
		Help:      "Total number of flows submitted.",
	}, []string{"flow_type"})

	// JobsEnqueued counts total jobs enqueued.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "jobs_enqueued_total",
		Help:      "Total number of jobs enqueued.",
	}, []string{"queue", "step"})

	// JobsFetched counts total jobs leased by workers.
	JobsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "jobs_fetched_total",
		Help:      "Total number of jobs fetched.",
	}, []string{"queue"})

	// JobsCompleted counts total jobs completed.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "jobs_completed_total",
		Help:      "Total number of jobs completed.",
	}, []string{"queue", "step"})

	// JobsRetried counts retry re-schedules after transient failures.
	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "jobs_retried_total",
		Help:      "Total number of job retries scheduled.",
	}, []string{"queue", "step"})

	// JobsDiscarded counts jobs terminally failed.
	JobsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "jobs_discarded_total",
		Help:      "Total number of jobs discarded.",
	}, []string{"queue", "step"})

	// CompensationsEnqueued counts compensating jobs enqueued.
	CompensationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "compensations_enqueued_total",
		Help:      "Total number of compensation jobs enqueued.",
	}, []string{"failed_step", "compensation"})

	// CompensationsMissing counts fatal failures with no registered compensation.
	CompensationsMissing = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sagaflow",
		Name:      "compensations_missing_total",
		Help:      "Fatal failures escalated because no compensation is registered.",
	}, []string{"step"})

	// JobDuration tracks step handler execution duration.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sagaflow",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"queue", "step"})

	// WorkersActive tracks in-flight handler executions per queue.
	WorkersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sagaflow",
		Name:      "workers_active",
		Help:      "Number of jobs currently being processed.",
	}, []string{"queue"})

	// ServerInfo exposes static server metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sagaflow",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version", "backend"})
)

// Init sets static server metadata on the info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}
