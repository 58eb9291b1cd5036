package core

import (
	"encoding/json"
	"time"
)

const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats a time as ISO 8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time formatted as ISO 8601 UTC.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// JobOptions carries the queue-facing settings of one job, derived from the
// step's retry policy and identity scheme before submission.
type JobOptions struct {
	JobID    string         `json:"job_id"`
	Attempts int            `json:"attempts"`
	Backoff  BackoffOptions `json:"backoff"`
	// Delay defers the first execution; the job sits scheduled until the
	// due time passes.
	Delay            time.Duration `json:"delay_ms,omitempty"`
	RemoveOnComplete bool          `json:"remove_on_complete"`
}

// BackoffOptions is the wire shape of a backoff setting: the strategy plus
// the initial delay. The full schedule is recomputed from the step's
// RetryConfig at failure time.
type BackoffOptions struct {
	Type  BackoffStrategy `json:"type"`
	Delay time.Duration   `json:"delay_ms"`
}

// OptionsFor derives the JobOptions for a step from its retry config.
// The job ID must be assigned separately by the caller.
func OptionsFor(cfg RetryConfig) JobOptions {
	return JobOptions{
		Attempts: cfg.MaxAttempts,
		Backoff: BackoffOptions{
			Type:  cfg.Strategy,
			Delay: cfg.InitialDelay,
		},
		RemoveOnComplete: true,
	}
}

// JobSpec is one node of a flow tree: a named unit of work plus the ordered
// children that become eligible only after it completes. Immutable after
// submission.
type JobSpec struct {
	Name     StepName        `json:"name"`
	Queue    string          `json:"queue"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Options  JobOptions      `json:"options"`
	Children []JobSpec       `json:"children,omitempty"`
}

// Walk visits the spec and every descendant, parent before children.
// Traversal stops at the first error.
func (s *JobSpec) Walk(fn func(node *JobSpec, parent *JobSpec) error) error {
	return walkSpec(s, nil, fn)
}

func walkSpec(node, parent *JobSpec, fn func(node *JobSpec, parent *JobSpec) error) error {
	if err := fn(node, parent); err != nil {
		return err
	}
	for i := range node.Children {
		if err := walkSpec(&node.Children[i], node, fn); err != nil {
			return err
		}
	}
	return nil
}

// CountNodes returns the number of nodes in the tree rooted at s.
func (s *JobSpec) CountNodes() int {
	n := 0
	s.Walk(func(*JobSpec, *JobSpec) error {
		n++
		return nil
	})
	return n
}

// Job is the runtime envelope the queue hands to workers. The queue owns
// its mutable fields (state, attempt count, timestamps); handlers only read
// the name and payload.
type Job struct {
	ID          string          `json:"id"`
	Name        StepName        `json:"name"`
	Queue       string          `json:"queue"`
	State       string          `json:"state"`
	FlowID      string          `json:"flow_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   string          `json:"created_at"`
	EnqueuedAt  string          `json:"enqueued_at,omitempty"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
	ScheduledAt string          `json:"scheduled_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`

	// ReceiptHandle is transport state for acknowledging the in-flight
	// message; never serialized into the envelope.
	ReceiptHandle string `json:"-"`
}
