package core

import (
	"context"
	"time"
)

// Backend is the durable queue the orchestrator runs on. One implementation
// backs it with SQS for transport and DynamoDB for job state; tests use an
// in-memory fake.
type Backend interface {
	// SubmitFlow durably persists a whole flow tree and makes only the
	// root available. Children stay pending until their parent completes.
	// All-or-nothing from the caller's perspective: a partially written
	// tree is rolled back before the error is returned.
	SubmitFlow(ctx context.Context, flowID string, root *JobSpec) (rootJobID string, err error)

	// Enqueue persists and releases a single job outside any flow.
	// Returns DuplicateJobError when a job with the same ID already
	// exists in the queue.
	Enqueue(ctx context.Context, spec *JobSpec) (*Job, error)

	// Fetch leases up to count available jobs from a queue. Leased jobs
	// are invisible to other workers until acked, retried, or discarded.
	Fetch(ctx context.Context, queue string, count int) ([]*Job, error)

	// Ack marks a leased job completed and releases its pending children.
	Ack(ctx context.Context, job *Job, result []byte) error

	// Retry returns a leased job to the queue, scheduled after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration, reason string) error

	// Discard terminally fails a leased job. Pending descendants are
	// discarded with it.
	Discard(ctx context.Context, job *Job, reason string) error

	// RegisterCron registers a recurring job under a fixed name.
	// Re-registering the same name is a no-op, so process restarts do
	// not create duplicate schedules.
	RegisterCron(ctx context.Context, name, schedule string, spec *JobSpec) error

	// Health verifies connectivity to the underlying infrastructure.
	Health(ctx context.Context) error
}
