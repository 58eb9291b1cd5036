package flow

import (
	"context"
	"log/slog"

	"github.com/commercekit/sagaflow/internal/core"
)

// Dispatcher submits flow trees to the durable queue. It owns no business
// logic: the builder decides shape and options, the backend decides
// durability.
type Dispatcher struct {
	backend core.Backend
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(backend core.Backend, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{backend: backend, logger: logger}
}

// Submit durably persists the whole tree and returns the root job ID.
// Submission is all-or-nothing: on error no node of the flow remains
// enqueued. A root without an assigned job ID is a caller bug.
func (d *Dispatcher) Submit(ctx context.Context, flowID string, root *core.JobSpec) (string, error) {
	if root == nil || root.Options.JobID == "" {
		return "", core.NewInfrastructureError("submit", "flow root has no assigned job ID", nil)
	}
	if err := Validate(root); err != nil {
		return "", err
	}

	rootJobID, err := d.backend.SubmitFlow(ctx, flowID, root)
	if err != nil {
		return "", err
	}

	d.logger.Info("flow submitted",
		"flow_id", flowID,
		"root_job_id", rootJobID,
		"nodes", root.CountNodes())
	return rootJobID, nil
}
