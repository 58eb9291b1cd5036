package worker

import (
	"log/slog"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/metrics"
)

// Observer receives job lifecycle events from the worker loop. Logging and
// metrics live behind this interface so the loop itself stays free of
// cross-cutting concerns.
type Observer interface {
	JobStarted(e *core.JobEvent)
	JobCompleted(e *core.JobEvent)
	JobRetried(e *core.JobEvent)
	JobDiscarded(e *core.JobEvent)
}

// LogObserver reports lifecycle events via structured logging.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) JobStarted(e *core.JobEvent) {
	o.logger.Debug("job started",
		"job_id", e.JobID, "step", e.Step, "queue", e.Queue, "attempt", e.Attempt, "flow_id", e.FlowID)
}

func (o *LogObserver) JobCompleted(e *core.JobEvent) {
	o.logger.Info("job completed",
		"job_id", e.JobID, "step", e.Step, "queue", e.Queue, "attempt", e.Attempt,
		"flow_id", e.FlowID, "duration", e.Duration)
}

func (o *LogObserver) JobRetried(e *core.JobEvent) {
	o.logger.Warn("job retry scheduled",
		"job_id", e.JobID, "step", e.Step, "queue", e.Queue, "attempt", e.Attempt,
		"flow_id", e.FlowID, "error", e.Error)
}

func (o *LogObserver) JobDiscarded(e *core.JobEvent) {
	o.logger.Error("job discarded",
		"job_id", e.JobID, "step", e.Step, "queue", e.Queue, "attempt", e.Attempt,
		"flow_id", e.FlowID, "error", e.Error)
}

// MetricsObserver reports lifecycle events as Prometheus metrics.
type MetricsObserver struct{}

func (MetricsObserver) JobStarted(e *core.JobEvent) {
	metrics.WorkersActive.WithLabelValues(e.Queue).Inc()
}

func (MetricsObserver) JobCompleted(e *core.JobEvent) {
	metrics.WorkersActive.WithLabelValues(e.Queue).Dec()
	metrics.JobsCompleted.WithLabelValues(e.Queue, string(e.Step)).Inc()
	metrics.JobDuration.WithLabelValues(e.Queue, string(e.Step)).Observe(e.Duration.Seconds())
}

func (MetricsObserver) JobRetried(e *core.JobEvent) {
	metrics.WorkersActive.WithLabelValues(e.Queue).Dec()
	metrics.JobsRetried.WithLabelValues(e.Queue, string(e.Step)).Inc()
}

func (MetricsObserver) JobDiscarded(e *core.JobEvent) {
	metrics.WorkersActive.WithLabelValues(e.Queue).Dec()
	metrics.JobsDiscarded.WithLabelValues(e.Queue, string(e.Step)).Inc()
}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) JobStarted(e *core.JobEvent) {
	for _, o := range m {
		o.JobStarted(e)
	}
}

func (m MultiObserver) JobCompleted(e *core.JobEvent) {
	for _, o := range m {
		o.JobCompleted(e)
	}
}

func (m MultiObserver) JobRetried(e *core.JobEvent) {
	for _, o := range m {
		o.JobRetried(e)
	}
}

func (m MultiObserver) JobDiscarded(e *core.JobEvent) {
	for _, o := range m {
		o.JobDiscarded(e)
	}
}
