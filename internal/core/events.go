package core

import "time"

// Event types emitted by the worker loop.
const (
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobRetried   = "job.retried"
	EventJobDiscarded = "job.discarded"
)

// JobEvent describes one lifecycle transition of a job, published to
// observers for logging and metrics. The worker loop stays free of
// cross-cutting concerns; observers do the reporting.
type JobEvent struct {
	EventType string        `json:"event"`
	JobID     string        `json:"job_id"`
	FlowID    string        `json:"flow_id,omitempty"`
	Step      StepName      `json:"step"`
	Queue     string        `json:"queue"`
	Attempt   int           `json:"attempt"`
	Duration  time.Duration `json:"duration_ms,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// NewJobEvent creates an event for a job with the current timestamp.
func NewJobEvent(eventType string, job *Job) *JobEvent {
	return &JobEvent{
		EventType: eventType,
		JobID:     job.ID,
		FlowID:    job.FlowID,
		Step:      job.Name,
		Queue:     job.Queue,
		Attempt:   job.Attempt,
		Timestamp: NowFormatted(),
	}
}
