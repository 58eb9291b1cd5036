package compensate

import "github.com/commercekit/sagaflow/internal/core"

// Registry is the static mapping from "step X failed fatally" to the
// compensating steps to enqueue. Compensations undo the side effects of
// the steps that already succeeded before the failure, so a step deeper in
// the saga maps to more corrective actions.
type Registry struct {
	actions map[core.StepName][]core.StepName
}

// NewRegistry validates that every trigger and action is a declared step.
func NewRegistry(actions map[core.StepName][]core.StepName) (*Registry, error) {
	m := make(map[core.StepName][]core.StepName, len(actions))
	for trigger, steps := range actions {
		if !core.IsValidStep(trigger) {
			return nil, core.NewConfigurationError("compensation registered for unknown step: " + string(trigger))
		}
		for _, step := range steps {
			if !core.IsValidStep(step) {
				return nil, core.NewConfigurationError("unknown compensation step: " + string(step))
			}
		}
		m[trigger] = append([]core.StepName(nil), steps...)
	}
	return &Registry{actions: m}, nil
}

// DefaultRegistry maps each checkout step to the corrective actions for
// the side effects accumulated before it. Steps absent from the map have
// no compensation; their fatal failures are escalated to operators.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(map[core.StepName][]core.StepName{
		core.StepCreateOrder:        {core.StepReleaseStock},
		core.StepProcessPayment:     {core.StepReleaseOrderStock, core.StepCancelOrder},
		core.StepConfirmReservation: {core.StepReleaseOrderStock, core.StepCancelOrder, core.StepRefundPayment},
		core.StepConfirmOrder:       {core.StepCancelOrder, core.StepRefundPayment},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// ActionsFor returns the compensation steps for a fatally failed step, or
// nil when none are registered.
func (r *Registry) ActionsFor(step core.StepName) []core.StepName {
	return r.actions[step]
}
