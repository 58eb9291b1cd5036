package flow

import (
	"encoding/json"
	"fmt"

	"github.com/commercekit/sagaflow/internal/core"
)

// CheckoutTrigger is what the checkout use case supplies to start a saga:
// the cart, the customer, and the chosen payment method. The builder
// allocates the order ID up front so every step and every compensation can
// derive its business-keyed job ID without waiting on step results.
type CheckoutTrigger struct {
	CartID        string `json:"cart_id"`
	CustomerID    string `json:"customer_id"`
	PaymentMethod string `json:"payment_method"`
}

// CheckoutPayload is the pass-through blob carried by every checkout step.
type CheckoutPayload struct {
	FlowID        string `json:"flow_id"`
	CartID        string `json:"cart_id"`
	CustomerID    string `json:"customer_id"`
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
}

// NotificationTrigger describes one notification to deliver.
type NotificationTrigger struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// NotificationPayload is carried by every notification step.
type NotificationPayload struct {
	FlowID       string              `json:"flow_id"`
	Notification NotificationTrigger `json:"notification"`
	Status       string              `json:"status"`
}

// checkoutSteps is the forward path of the checkout saga, outermost first.
// Each step gates the next: the deepest node runs last.
var checkoutSteps = []core.StepName{
	core.StepValidateCart,
	core.StepResolveAddress,
	core.StepReserveStock,
	core.StepCreateOrder,
	core.StepProcessPayment,
	core.StepConfirmReservation,
	core.StepConfirmOrder,
	core.StepClearCart,
	core.StepFinalizeCheckout,
}

// notificationSteps is the delivery pipeline: mark in-flight first, then
// send, then record history. History is never written for a notification
// that was not marked in-flight.
var notificationSteps = []core.StepName{
	core.StepUpdateNotificationStatus,
	core.StepSendNotification,
	core.StepSaveNotificationHistory,
}

// Builder assembles flow trees. Each node's options come from the retry
// policy registry; job IDs are flow-scoped so every node is traceable back
// to the originating trigger.
type Builder struct {
	policies *core.PolicyRegistry
}

// NewBuilder creates a Builder backed by the given policy registry.
func NewBuilder(policies *core.PolicyRegistry) *Builder {
	return &Builder{policies: policies}
}

// CheckoutFlow builds the flow tree for one checkout attempt. It returns
// the root spec, the flow ID, and the pre-allocated order ID.
func (b *Builder) CheckoutFlow(trigger CheckoutTrigger) (*core.JobSpec, string, string, error) {
	if trigger.CartID == "" || trigger.CustomerID == "" {
		return nil, "", "", core.NewConfigurationError("checkout trigger requires cart and customer IDs")
	}

	flowID := core.NewFlowID()
	orderID := "ORD-" + core.NewFlowID()

	payload, err := json.Marshal(CheckoutPayload{
		FlowID:        flowID,
		CartID:        trigger.CartID,
		CustomerID:    trigger.CustomerID,
		OrderID:       orderID,
		PaymentMethod: trigger.PaymentMethod,
	})
	if err != nil {
		return nil, "", "", fmt.Errorf("marshal checkout payload: %w", err)
	}

	root, err := b.chain(flowID, checkoutSteps, payload)
	if err != nil {
		return nil, "", "", err
	}
	if err := Validate(root); err != nil {
		return nil, "", "", err
	}
	return root, flowID, orderID, nil
}

// NotificationFlow builds the delivery flow for one notification with the
// status the root step should record before sending.
func (b *Builder) NotificationFlow(trigger NotificationTrigger, status string) (*core.JobSpec, string, error) {
	if trigger.ID == "" {
		return nil, "", core.NewConfigurationError("notification trigger requires an ID")
	}

	flowID := core.NewFlowID()
	payload, err := json.Marshal(NotificationPayload{
		FlowID:       flowID,
		Notification: trigger,
		Status:       status,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal notification payload: %w", err)
	}

	root, err := b.chain(flowID, notificationSteps, payload)
	if err != nil {
		return nil, "", err
	}
	if err := Validate(root); err != nil {
		return nil, "", err
	}
	return root, flowID, nil
}

// chain nests steps into a single-child tree, outermost step as root.
// Every node shares the flow payload and gets flow-scoped options.
func (b *Builder) chain(flowID string, steps []core.StepName, payload json.RawMessage) (*core.JobSpec, error) {
	if len(steps) == 0 {
		return nil, core.NewConfigurationError("flow must have at least one step")
	}

	var child *core.JobSpec
	for i := len(steps) - 1; i >= 0; i-- {
		spec, err := b.node(flowID, steps[i], payload)
		if err != nil {
			return nil, err
		}
		if child != nil {
			spec.Children = []core.JobSpec{*child}
		}
		child = spec
	}
	return child, nil
}

// node builds one flow node with policy-derived options.
func (b *Builder) node(flowID string, step core.StepName, payload json.RawMessage) (*core.JobSpec, error) {
	cfg, err := b.policies.Policy(step)
	if err != nil {
		return nil, err
	}
	queue, err := core.QueueForStep(step)
	if err != nil {
		return nil, err
	}

	opts := core.OptionsFor(cfg)
	opts.JobID = core.FlowJobID(flowID, step)

	return &core.JobSpec{
		Name:    step,
		Queue:   queue,
		Payload: payload,
		Options: opts,
	}, nil
}

// Validate enforces the structural invariants of a flow tree: at least one
// node, every node named and identified, no job ID appearing twice.
func Validate(root *core.JobSpec) error {
	if root == nil {
		return core.NewConfigurationError("flow has no root node")
	}
	seen := make(map[string]bool)
	return root.Walk(func(node *core.JobSpec, _ *core.JobSpec) error {
		if !core.IsValidStep(node.Name) {
			return core.NewConfigurationError("flow node has unknown step name: " + string(node.Name))
		}
		if node.Options.JobID == "" {
			return core.NewConfigurationError("flow node " + string(node.Name) + " has no job ID")
		}
		if seen[node.Options.JobID] {
			return core.NewConfigurationError("duplicate job ID in flow: " + node.Options.JobID)
		}
		seen[node.Options.JobID] = true
		return nil
	})
}
