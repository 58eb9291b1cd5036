package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/metrics"
	"github.com/commercekit/sagaflow/internal/state"
)

// Enqueue persists and releases a single job. The state-store put is
// conditional on the job ID, which is what makes business-keyed IDs
// idempotent: a second submission with the same ID returns
// DuplicateJobError instead of a second execution.
func (b *Backend) Enqueue(ctx context.Context, spec *core.JobSpec) (*core.Job, error) {
	if spec.Options.JobID == "" {
		return nil, core.NewConfigurationError("job spec has no assigned ID")
	}

	now := time.Now()
	job := &core.Job{
		ID:          spec.Options.JobID,
		Name:        spec.Name,
		Queue:       spec.Queue,
		State:       core.StateAvailable,
		Payload:     spec.Payload,
		Attempt:     0,
		MaxAttempts: spec.Options.Attempts,
		CreatedAt:   core.FormatTime(now),
		EnqueuedAt:  core.FormatTime(now),
	}
	if spec.Options.Delay > 0 {
		job.State = core.StateScheduled
		job.EnqueuedAt = ""
		job.ScheduledAt = core.FormatTime(now.Add(spec.Options.Delay))
	}

	if err := b.store.PutJob(ctx, state.JobToRecord(job)); err != nil {
		if errors.Is(err, state.ErrJobExists) {
			return nil, &core.DuplicateJobError{JobID: job.ID}
		}
		return nil, core.NewInfrastructureError("enqueue", "store job", err)
	}

	// Delayed jobs wait in the scheduled index; the scheduler sends them
	// to SQS once the due time passes.
	if spec.Options.Delay > 0 {
		if err := b.store.AddScheduledJob(ctx, job.ID, now.Add(spec.Options.Delay).UnixMilli()); err != nil {
			return nil, core.NewInfrastructureError("enqueue", "schedule delayed job", err)
		}
		metrics.JobsEnqueued.WithLabelValues(job.Queue, string(job.Name)).Inc()
		return job, nil
	}

	if _, err := b.sendToSQS(ctx, job); err != nil {
		return nil, core.NewInfrastructureError("enqueue", "send to SQS", err)
	}

	metrics.JobsEnqueued.WithLabelValues(job.Queue, string(job.Name)).Inc()
	return job, nil
}

// Fetch leases up to count available jobs from a queue. The attempt
// counter is incremented on lease, so Attempt counts executions including
// the one in progress.
func (b *Backend) Fetch(ctx context.Context, queue string, count int) ([]*core.Job, error) {
	queueURL, err := b.getOrCreateQueueURL(ctx, queue)
	if err != nil {
		return nil, core.NewInfrastructureError("fetch", "resolve queue", err)
	}

	var jobs []*core.Job
	for len(jobs) < count {
		batchSize := count - len(jobs)
		if batchSize > 10 {
			batchSize = 10 // SQS ReceiveMessage limit
		}

		resp, err := b.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(queueURL),
			MaxNumberOfMessages:   int32(batchSize),
			VisibilityTimeout:     30,
			MessageAttributeNames: []string{"All"},
			WaitTimeSeconds:       0,
		})
		if err != nil {
			return jobs, core.NewInfrastructureError("fetch", "receive messages", err)
		}
		if len(resp.Messages) == 0 {
			break
		}

		now := core.NowFormatted()
		for _, msg := range resp.Messages {
			job, err := DecodeJob(*msg.Body)
			if err != nil {
				b.logger.Warn("dropping undecodable message", "queue", queue, "error", err)
				continue
			}

			record, err := b.store.GetJob(ctx, job.ID)
			if err != nil {
				continue
			}
			if core.IsTerminalState(record.State) {
				// Settled by another path; drop the stale message.
				b.deleteMessage(ctx, queueURL, *msg.ReceiptHandle)
				continue
			}

			attempt := record.Attempt + 1
			updates := map[string]any{
				"started_at": now,
				"attempt":    attempt,
			}
			if err := b.store.UpdateJobState(ctx, job.ID, core.StateActive, updates); err != nil {
				continue
			}

			full := state.RecordToJob(record)
			full.State = core.StateActive
			full.Attempt = attempt
			full.StartedAt = now
			full.ReceiptHandle = *msg.ReceiptHandle
			jobs = append(jobs, full)
		}
	}

	if len(jobs) > 0 {
		metrics.JobsFetched.WithLabelValues(queue).Add(float64(len(jobs)))
	}
	return jobs, nil
}

// Ack marks a leased job completed and releases its pending children.
func (b *Backend) Ack(ctx context.Context, job *core.Job, result []byte) error {
	record, err := b.store.GetJob(ctx, job.ID)
	if err != nil {
		return core.NewInfrastructureError("ack", "load job", err)
	}

	if job.ReceiptHandle != "" {
		queueURL, err := b.getOrCreateQueueURL(ctx, job.Queue)
		if err == nil {
			b.deleteMessage(ctx, queueURL, job.ReceiptHandle)
		}
	}

	updates := map[string]any{
		"completed_at": core.NowFormatted(),
	}
	if len(result) > 0 {
		updates["result"] = string(result)
	}
	if err := b.store.UpdateJobState(ctx, job.ID, core.StateCompleted, updates); err != nil {
		return core.NewInfrastructureError("ack", "update state", err)
	}

	if record.FlowID != "" {
		b.recordFlowProgress(ctx, record.FlowID)
	}

	return b.releaseChildren(ctx, record)
}

// releaseChildren moves the acked job's pending children to available and
// sends them to SQS. Parent-before-children ordering comes from exactly
// this: a child message does not exist until its parent is acked.
func (b *Backend) releaseChildren(ctx context.Context, parent *state.JobRecord) error {
	var firstErr error
	for _, childID := range parent.ChildIDs {
		child, err := b.store.GetJob(ctx, childID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if child.State != core.StatePending {
			continue
		}

		updates := map[string]any{
			"enqueued_at": core.NowFormatted(),
		}
		if err := b.store.UpdateJobState(ctx, childID, core.StateAvailable, updates); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		childJob := state.RecordToJob(child)
		childJob.State = core.StateAvailable
		if _, err := b.sendToSQS(ctx, childJob); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.JobsEnqueued.WithLabelValues(childJob.Queue, string(childJob.Name)).Inc()
	}
	if firstErr != nil {
		return core.NewInfrastructureError("ack", "release children", firstErr)
	}
	return nil
}

// Retry returns a leased job to the queue after delay. The message is
// removed from SQS; the scheduler re-sends it once the delay elapses.
func (b *Backend) Retry(ctx context.Context, job *core.Job, delay time.Duration, reason string) error {
	if job.ReceiptHandle != "" {
		queueURL, err := b.getOrCreateQueueURL(ctx, job.Queue)
		if err == nil {
			b.deleteMessage(ctx, queueURL, job.ReceiptHandle)
		}
	}

	dueAt := time.Now().Add(delay)
	updates := map[string]any{
		"last_error":   reason,
		"scheduled_at": core.FormatTime(dueAt),
	}
	if err := b.store.UpdateJobState(ctx, job.ID, core.StateRetryable, updates); err != nil {
		return core.NewInfrastructureError("retry", "update state", err)
	}

	if err := b.store.AddRetryJob(ctx, job.ID, dueAt.UnixMilli()); err != nil {
		return core.NewInfrastructureError("retry", "schedule retry", err)
	}

	return nil
}

// Discard terminally fails a leased job and cascades to its pending
// descendants: a child gated behind a failed parent can never run.
func (b *Backend) Discard(ctx context.Context, job *core.Job, reason string) error {
	if job.ReceiptHandle != "" {
		queueURL, err := b.getOrCreateQueueURL(ctx, job.Queue)
		if err == nil {
			b.deleteMessage(ctx, queueURL, job.ReceiptHandle)
		}
	}

	record, err := b.store.GetJob(ctx, job.ID)
	if err != nil {
		return core.NewInfrastructureError("discard", "load job", err)
	}

	updates := map[string]any{
		"completed_at": core.NowFormatted(),
		"last_error":   reason,
	}
	if err := b.store.UpdateJobState(ctx, job.ID, core.StateDiscarded, updates); err != nil {
		return core.NewInfrastructureError("discard", "update state", err)
	}

	if record.FlowID != "" {
		b.store.UpdateFlow(ctx, record.FlowID, map[string]any{
			"state":        "failed",
			"completed_at": core.NowFormatted(),
		})
	}

	return b.discardDescendants(ctx, record, reason)
}

func (b *Backend) discardDescendants(ctx context.Context, parent *state.JobRecord, reason string) error {
	for _, childID := range parent.ChildIDs {
		child, err := b.store.GetJob(ctx, childID)
		if err != nil {
			continue
		}
		if child.State != core.StatePending {
			continue
		}
		b.store.UpdateJobState(ctx, childID, core.StateDiscarded, map[string]any{
			"completed_at": core.NowFormatted(),
			"last_error":   fmt.Sprintf("parent %s discarded: %s", parent.ID, reason),
		})
		b.discardDescendants(ctx, child, reason)
	}
	return nil
}

// recordFlowProgress bumps the flow's completed count, marking the flow
// completed when every node has run.
func (b *Backend) recordFlowProgress(ctx context.Context, flowID string) {
	flow, err := b.store.GetFlow(ctx, flowID)
	if err != nil {
		return
	}
	completed := flow.Completed + 1
	updates := map[string]any{"completed": completed}
	if completed >= flow.Total {
		updates["state"] = "completed"
		updates["completed_at"] = core.NowFormatted()
	}
	b.store.UpdateFlow(ctx, flowID, updates)
}

func (b *Backend) deleteMessage(ctx context.Context, queueURL, receiptHandle string) {
	b.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
}
