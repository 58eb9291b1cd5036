package compensate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/metrics"
)

// ErrNoCompensation is returned when a fatally failed step has no
// registered compensation. The failure is terminal; the trigger has
// already logged it at error severity for manual intervention.
var ErrNoCompensation = errors.New("no compensation registered")

// Context carries the business identifiers a compensation needs: which
// flow failed, the business key the compensating job IDs derive from, and
// the original payload passed through to the compensating handlers.
type Context struct {
	FlowID      string
	BusinessKey string
	Payload     json.RawMessage
}

// Trigger enqueues compensating jobs through the same identity and retry
// machinery as the forward path. Compensation job IDs are business-keyed,
// so double-triggering converges to at most one compensating execution.
type Trigger struct {
	registry *Registry
	policies *core.PolicyRegistry
	backend  core.Backend
	logger   *slog.Logger
}

// NewTrigger creates a Trigger.
func NewTrigger(registry *Registry, policies *core.PolicyRegistry, backend core.Backend, logger *slog.Logger) *Trigger {
	return &Trigger{registry: registry, policies: policies, backend: backend, logger: logger}
}

// Compensate enqueues every registered compensation for a fatally failed
// step and returns their job IDs. A duplicate-job response from the queue
// counts as success: the compensation already exists. With no registered
// compensation the failure is escalated and ErrNoCompensation returned.
func (t *Trigger) Compensate(ctx context.Context, step core.StepName, cc Context) ([]string, error) {
	actions := t.registry.ActionsFor(step)
	if len(actions) == 0 {
		t.logger.Error("fatal failure with no registered compensation, manual intervention required",
			"step", step,
			"flow_id", cc.FlowID,
			"business_key", cc.BusinessKey)
		metrics.CompensationsMissing.WithLabelValues(string(step)).Inc()
		return nil, ErrNoCompensation
	}

	jobIDs := make([]string, 0, len(actions))
	for _, action := range actions {
		spec, err := t.spec(action, cc)
		if err != nil {
			return jobIDs, err
		}

		job, err := t.backend.Enqueue(ctx, spec)
		if err != nil {
			if existingID, ok := core.IsDuplicateJob(err); ok {
				t.logger.Info("compensation already enqueued",
					"step", action,
					"job_id", existingID,
					"flow_id", cc.FlowID)
				jobIDs = append(jobIDs, existingID)
				continue
			}
			return jobIDs, core.NewInfrastructureError("compensate", "enqueue "+string(action), err)
		}

		t.logger.Warn("compensation enqueued",
			"failed_step", step,
			"compensation", action,
			"job_id", job.ID,
			"flow_id", cc.FlowID,
			"business_key", cc.BusinessKey)
		metrics.CompensationsEnqueued.WithLabelValues(string(step), string(action)).Inc()
		jobIDs = append(jobIDs, job.ID)
	}
	return jobIDs, nil
}

func (t *Trigger) spec(action core.StepName, cc Context) (*core.JobSpec, error) {
	cfg, err := t.policies.Policy(action)
	if err != nil {
		return nil, err
	}
	queue, err := core.QueueForStep(action)
	if err != nil {
		return nil, err
	}

	opts := core.OptionsFor(cfg)
	opts.JobID = core.BusinessJobID(action, cc.BusinessKey)

	return &core.JobSpec{
		Name:    action,
		Queue:   queue,
		Payload: cc.Payload,
		Options: opts,
	}, nil
}
