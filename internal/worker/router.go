package worker

import (
	"context"
	"fmt"

	"github.com/commercekit/sagaflow/internal/core"
)

// Handler executes one step and classifies its own outcome: transient
// failures retryable, business-rule violations fatal.
type Handler func(ctx context.Context, job *core.Job) core.StepOutcome

// Router maps step names to handlers. The step set is closed, so the
// router can be validated exhaustively at startup: a missing handler is a
// deployment bug caught before the first job is fetched.
type Router struct {
	handlers map[core.StepName]Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[core.StepName]Handler)}
}

// Register binds a handler to a step name. Unknown names and double
// registrations are rejected.
func (r *Router) Register(step core.StepName, h Handler) error {
	if !core.IsValidStep(step) {
		return core.NewConfigurationError("handler registered for unknown step: " + string(step))
	}
	if h == nil {
		return core.NewConfigurationError("nil handler for step: " + string(step))
	}
	if _, exists := r.handlers[step]; exists {
		return core.NewConfigurationError("handler already registered for step: " + string(step))
	}
	r.handlers[step] = h
	return nil
}

// Validate checks that every declared step has a handler.
func (r *Router) Validate() error {
	var missing []core.StepName
	for _, step := range core.AllSteps() {
		if _, ok := r.handlers[step]; !ok {
			missing = append(missing, step)
		}
	}
	if len(missing) > 0 {
		return core.NewConfigurationError(fmt.Sprintf("steps without handlers: %v", missing))
	}
	return nil
}

// Route returns the handler for a job's step name.
func (r *Router) Route(step core.StepName) (Handler, error) {
	h, ok := r.handlers[step]
	if !ok {
		return nil, core.NewConfigurationError("no handler for step: " + string(step))
	}
	return h, nil
}
