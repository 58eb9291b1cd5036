package state

import (
	"context"
	"errors"

	"github.com/commercekit/sagaflow/internal/core"
)

// ErrJobExists is returned by PutJob when a record with the same job ID is
// already stored. The backend maps it to the idempotent duplicate-job
// response.
var ErrJobExists = errors.New("job already exists")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// JobRecord is a job as stored in the state store (DynamoDB).
type JobRecord struct {
	ID          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Name        string `dynamodbav:"name"`
	State       string `dynamodbav:"state"`
	Queue       string `dynamodbav:"queue"`
	FlowID      string `dynamodbav:"flow_id,omitempty"`
	ParentID    string `dynamodbav:"parent_id,omitempty"`
	Payload     string `dynamodbav:"payload,omitempty"`
	Attempt     int    `dynamodbav:"attempt"`
	MaxAttempts int    `dynamodbav:"max_attempts"`
	CreatedAt   string `dynamodbav:"created_at"`
	EnqueuedAt  string `dynamodbav:"enqueued_at,omitempty"`
	StartedAt   string `dynamodbav:"started_at,omitempty"`
	CompletedAt string `dynamodbav:"completed_at,omitempty"`
	ScheduledAt string `dynamodbav:"scheduled_at,omitempty"`
	Result      string `dynamodbav:"result,omitempty"`
	LastError   string `dynamodbav:"last_error,omitempty"`

	// ChildIDs are the job IDs gated behind this job, released on Ack.
	ChildIDs []string `dynamodbav:"child_ids,omitempty"`

	// GSI attributes for queries
	GSI1PK string `dynamodbav:"GSI1PK,omitempty"` // QUEUE#<name>
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"` // STATE#<state>#<created_at>
	GSI2PK string `dynamodbav:"GSI2PK,omitempty"` // STATE#<state>
	GSI2SK string `dynamodbav:"GSI2SK,omitempty"` // <created_at>
	TTL    *int64 `dynamodbav:"ttl,omitempty"`
}

// FlowRecord tracks one submitted flow tree.
type FlowRecord struct {
	ID          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	RootJobID   string `dynamodbav:"root_job_id"`
	State       string `dynamodbav:"state"`
	Total       int    `dynamodbav:"total"`
	Completed   int    `dynamodbav:"completed"`
	CreatedAt   string `dynamodbav:"created_at"`
	CompletedAt string `dynamodbav:"completed_at,omitempty"`
}

// CronRecord is a recurring job definition.
type CronRecord struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Name        string `dynamodbav:"name"`
	Expression  string `dynamodbav:"expression"`
	JobTemplate string `dynamodbav:"job_template,omitempty"`
	CreatedAt   string `dynamodbav:"created_at,omitempty"`
	LastRunAt   string `dynamodbav:"last_run_at,omitempty"`
}

// Store defines the interface for the external state store.
type Store interface {
	// Job operations. PutJob is conditional on the ID not existing and
	// returns ErrJobExists on collision.
	PutJob(ctx context.Context, record *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	UpdateJobState(ctx context.Context, jobID, newState string, updates map[string]any) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobsByQueue(ctx context.Context, queue, state string, limit int) ([]*JobRecord, error)

	// Flow operations
	PutFlow(ctx context.Context, flow *FlowRecord) error
	GetFlow(ctx context.Context, flowID string) (*FlowRecord, error)
	UpdateFlow(ctx context.Context, flowID string, updates map[string]any) error

	// Cron operations. PutCron is idempotent by name; AcquireCronLock
	// guards each firing so concurrent schedulers fire a cron once.
	PutCron(ctx context.Context, cron *CronRecord) error
	GetCron(ctx context.Context, name string) (*CronRecord, error)
	ListCrons(ctx context.Context) ([]*CronRecord, error)
	SetCronLastRun(ctx context.Context, name, lastRunAt string) error
	AcquireCronLock(ctx context.Context, name string, timestamp int64) (bool, error)

	// Due-time tracking for delayed and retrying jobs.
	AddScheduledJob(ctx context.Context, jobID string, dueAtMs int64) error
	GetDueScheduledJobs(ctx context.Context, nowMs int64) ([]string, error)
	RemoveScheduledJob(ctx context.Context, jobID string) error
	AddRetryJob(ctx context.Context, jobID string, retryAtMs int64) error
	GetDueRetryJobs(ctx context.Context, nowMs int64) ([]string, error)
	RemoveRetryJob(ctx context.Context, jobID string) error

	Ping(ctx context.Context) error
	Close() error
}

// RecordToJob converts a JobRecord to a core.Job.
func RecordToJob(r *JobRecord) *core.Job {
	job := &core.Job{
		ID:          r.ID,
		Name:        core.StepName(r.Name),
		State:       r.State,
		Queue:       r.Queue,
		FlowID:      r.FlowID,
		Attempt:     r.Attempt,
		MaxAttempts: r.MaxAttempts,
		CreatedAt:   r.CreatedAt,
		EnqueuedAt:  r.EnqueuedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		ScheduledAt: r.ScheduledAt,
		LastError:   r.LastError,
	}
	if r.Payload != "" {
		job.Payload = []byte(r.Payload)
	}
	return job
}

// JobToRecord converts a core.Job to a JobRecord for storage.
func JobToRecord(job *core.Job) *JobRecord {
	r := &JobRecord{
		ID:          job.ID,
		SK:          "JOB",
		Name:        string(job.Name),
		State:       job.State,
		Queue:       job.Queue,
		FlowID:      job.FlowID,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   job.CreatedAt,
		EnqueuedAt:  job.EnqueuedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		ScheduledAt: job.ScheduledAt,
		LastError:   job.LastError,
		GSI1PK:      "QUEUE#" + job.Queue,
		GSI1SK:      "STATE#" + job.State + "#" + job.CreatedAt,
		GSI2PK:      "STATE#" + job.State,
		GSI2SK:      job.CreatedAt,
	}
	if job.Payload != nil {
		r.Payload = string(job.Payload)
	}
	return r
}
