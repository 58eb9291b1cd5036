package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/state"
)

// PromoteRetries moves retryable jobs whose backoff has elapsed back to
// available and re-sends them to SQS.
func (b *Backend) PromoteRetries(ctx context.Context) error {
	return b.promoteDue(ctx, "retry",
		b.store.GetDueRetryJobs, b.store.RemoveRetryJob)
}

// PromoteScheduled moves delayed jobs whose due time has passed to
// available and sends them to SQS.
func (b *Backend) PromoteScheduled(ctx context.Context) error {
	return b.promoteDue(ctx, "scheduled",
		b.store.GetDueScheduledJobs, b.store.RemoveScheduledJob)
}

func (b *Backend) promoteDue(ctx context.Context, kind string,
	getDue func(context.Context, int64) ([]string, error),
	removeMarker func(context.Context, string) error) error {

	jobIDs, err := getDue(ctx, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	var firstErr error
	for _, jobID := range jobIDs {
		record, err := b.store.GetJob(ctx, jobID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load %s job %s: %w", kind, jobID, err)
			}
			b.logger.Error("failed to load due job", "kind", kind, "job_id", jobID, "error", err)
			continue
		}

		if err := removeMarker(ctx, jobID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s marker %s: %w", kind, jobID, err)
			}
			b.logger.Error("failed to remove due marker", "kind", kind, "job_id", jobID, "error", err)
			continue
		}

		now := time.Now()
		updates := map[string]any{
			"enqueued_at":  core.FormatTime(now),
			"scheduled_at": "",
		}
		if err := b.store.UpdateJobState(ctx, jobID, core.StateAvailable, updates); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("update %s job state %s: %w", kind, jobID, err)
			}
			b.logger.Error("failed to promote due job", "kind", kind, "job_id", jobID, "error", err)
			continue
		}

		job := state.RecordToJob(record)
		job.State = core.StateAvailable
		job.EnqueuedAt = core.FormatTime(now)
		if _, err := b.sendToSQS(ctx, job); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("send promoted %s job %s: %w", kind, jobID, err)
			}
			b.logger.Error("failed to send promoted job to SQS",
				"kind", kind, "job_id", jobID, "queue", job.Queue, "error", err)
		}
	}

	return firstErr
}
