package sqs

import (
	"context"
	"errors"
	"time"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/metrics"
	"github.com/commercekit/sagaflow/internal/state"
)

// SubmitFlow durably persists a whole flow tree and releases only the
// root. Every node is written to the state store first: the root as
// available, descendants as pending with parent links. Only after the
// whole tree is stored is the root sent to SQS, so a crash mid-submission
// never leaves a running flow with missing nodes. On any write failure the
// already-written records are removed before the error is returned.
func (b *Backend) SubmitFlow(ctx context.Context, flowID string, root *core.JobSpec) (string, error) {
	now := time.Now()
	var written []string

	rollback := func() {
		for _, id := range written {
			b.store.DeleteJob(context.WithoutCancel(ctx), id)
		}
	}

	var walkErr error
	root.Walk(func(node *core.JobSpec, parent *core.JobSpec) error {
		job := &core.Job{
			ID:          node.Options.JobID,
			Name:        node.Name,
			Queue:       node.Queue,
			State:       core.StatePending,
			FlowID:      flowID,
			Payload:     node.Payload,
			Attempt:     0,
			MaxAttempts: node.Options.Attempts,
			CreatedAt:   core.FormatTime(now),
		}
		if parent == nil {
			job.State = core.StateAvailable
			job.EnqueuedAt = core.FormatTime(now)
		}

		record := state.JobToRecord(job)
		if parent != nil {
			record.ParentID = parent.Options.JobID
		}
		for i := range node.Children {
			record.ChildIDs = append(record.ChildIDs, node.Children[i].Options.JobID)
		}

		if err := b.store.PutJob(ctx, record); err != nil {
			if errors.Is(err, state.ErrJobExists) {
				walkErr = &core.DuplicateJobError{JobID: job.ID}
			} else {
				walkErr = core.NewInfrastructureError("submit", "store flow node "+job.ID, err)
			}
			return walkErr
		}
		written = append(written, job.ID)
		return nil
	})
	if walkErr != nil {
		rollback()
		return "", walkErr
	}

	if err := b.store.PutFlow(ctx, &state.FlowRecord{
		ID:        flowID,
		RootJobID: root.Options.JobID,
		State:     "running",
		Total:     root.CountNodes(),
		CreatedAt: core.FormatTime(now),
	}); err != nil {
		rollback()
		return "", core.NewInfrastructureError("submit", "store flow record", err)
	}

	rootJob := &core.Job{
		ID:          root.Options.JobID,
		Name:        root.Name,
		Queue:       root.Queue,
		State:       core.StateAvailable,
		FlowID:      flowID,
		Payload:     root.Payload,
		MaxAttempts: root.Options.Attempts,
		CreatedAt:   core.FormatTime(now),
		EnqueuedAt:  core.FormatTime(now),
	}
	if _, err := b.sendToSQS(ctx, rootJob); err != nil {
		rollback()
		return "", core.NewInfrastructureError("submit", "send root to SQS", err)
	}

	metrics.JobsEnqueued.WithLabelValues(rootJob.Queue, string(rootJob.Name)).Inc()
	return rootJob.ID, nil
}
