package flow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/commercekit/sagaflow/internal/core"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		t.Fatalf("DefaultPolicies error = %v", err)
	}
	return NewBuilder(policies)
}

// flatten returns the step names of a single-child chain, root first.
func flatten(t *testing.T, root *core.JobSpec) []core.StepName {
	t.Helper()
	var names []core.StepName
	node := root
	for node != nil {
		names = append(names, node.Name)
		if len(node.Children) > 1 {
			t.Fatalf("node %s has %d children, want at most 1", node.Name, len(node.Children))
		}
		if len(node.Children) == 0 {
			break
		}
		node = &node.Children[0]
	}
	return names
}

func TestCheckoutFlow_ChainShape(t *testing.T) {
	b := testBuilder(t)

	root, flowID, orderID, err := b.CheckoutFlow(CheckoutTrigger{
		CartID:        "cart-1",
		CustomerID:    "cust-1",
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}
	if flowID == "" {
		t.Fatal("empty flow ID")
	}
	if !strings.HasPrefix(orderID, "ORD-") {
		t.Errorf("order ID = %q, want ORD- prefix", orderID)
	}

	want := []core.StepName{
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
	got := flatten(t, root)
	if len(got) != len(want) {
		t.Fatalf("chain has %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}

	if root.CountNodes() != 9 {
		t.Errorf("CountNodes = %d, want 9", root.CountNodes())
	}
}

func TestCheckoutFlow_PayloadSharedAcrossNodes(t *testing.T) {
	b := testBuilder(t)

	root, flowID, orderID, err := b.CheckoutFlow(CheckoutTrigger{
		CartID:     "cart-1",
		CustomerID: "cust-1",
	})
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}

	err = root.Walk(func(node *core.JobSpec, _ *core.JobSpec) error {
		var p CheckoutPayload
		if err := json.Unmarshal(node.Payload, &p); err != nil {
			t.Fatalf("node %s payload unmarshal error = %v", node.Name, err)
		}
		if p.FlowID != flowID {
			t.Errorf("node %s payload flow ID = %q, want %q", node.Name, p.FlowID, flowID)
		}
		if p.OrderID != orderID {
			t.Errorf("node %s payload order ID = %q, want %q", node.Name, p.OrderID, orderID)
		}
		if p.CartID != "cart-1" || p.CustomerID != "cust-1" {
			t.Errorf("node %s payload lost trigger fields: %+v", node.Name, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk error = %v", err)
	}
}

func TestCheckoutFlow_OptionsFromPolicy(t *testing.T) {
	b := testBuilder(t)

	root, flowID, _, err := b.CheckoutFlow(CheckoutTrigger{CartID: "c", CustomerID: "u"})
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}

	err = root.Walk(func(node *core.JobSpec, _ *core.JobSpec) error {
		if node.Options.JobID != core.FlowJobID(flowID, node.Name) {
			t.Errorf("node %s job ID = %q, want flow-scoped", node.Name, node.Options.JobID)
		}
		if node.Options.Attempts != 3 {
			t.Errorf("node %s attempts = %d, want 3", node.Name, node.Options.Attempts)
		}
		if node.Options.Backoff.Type != core.BackoffExponential {
			t.Errorf("node %s backoff = %q, want exponential", node.Name, node.Options.Backoff.Type)
		}
		if node.Queue != core.QueueCheckout {
			t.Errorf("node %s queue = %q, want checkout", node.Name, node.Queue)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk error = %v", err)
	}
}

func TestCheckoutFlow_RequiresTriggerFields(t *testing.T) {
	b := testBuilder(t)

	if _, _, _, err := b.CheckoutFlow(CheckoutTrigger{CustomerID: "u"}); err == nil {
		t.Error("expected error for missing cart ID")
	}
	if _, _, _, err := b.CheckoutFlow(CheckoutTrigger{CartID: "c"}); err == nil {
		t.Error("expected error for missing customer ID")
	}
}

func TestCheckoutFlow_DistinctFlowIDs(t *testing.T) {
	b := testBuilder(t)
	trigger := CheckoutTrigger{CartID: "c", CustomerID: "u"}

	_, id1, ord1, err := b.CheckoutFlow(trigger)
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}
	_, id2, ord2, err := b.CheckoutFlow(trigger)
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}
	if id1 == id2 {
		t.Error("two submissions share a flow ID")
	}
	if ord1 == ord2 {
		t.Error("two submissions share an order ID")
	}
}

func TestNotificationFlow(t *testing.T) {
	b := testBuilder(t)

	root, flowID, err := b.NotificationFlow(NotificationTrigger{
		ID:     "notif-1",
		UserID: "user-1",
		Title:  "Order shipped",
	}, "DELIVERED")
	if err != nil {
		t.Fatalf("NotificationFlow error = %v", err)
	}

	want := []core.StepName{
		core.StepUpdateNotificationStatus,
		core.StepSendNotification,
		core.StepSaveNotificationHistory,
	}
	got := flatten(t, root)
	if len(got) != len(want) {
		t.Fatalf("chain has %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}

	var p NotificationPayload
	if err := json.Unmarshal(root.Payload, &p); err != nil {
		t.Fatalf("payload unmarshal error = %v", err)
	}
	if p.FlowID != flowID || p.Status != "DELIVERED" || p.Notification.ID != "notif-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestNotificationFlow_RequiresID(t *testing.T) {
	b := testBuilder(t)
	if _, _, err := b.NotificationFlow(NotificationTrigger{UserID: "u"}, "SENT"); err == nil {
		t.Error("expected error for missing notification ID")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Error("expected error for nil root")
	}

	unknown := &core.JobSpec{
		Name:    "ship-order",
		Options: core.JobOptions{JobID: "x"},
	}
	if err := Validate(unknown); err == nil {
		t.Error("expected error for unknown step name")
	}

	noID := &core.JobSpec{Name: core.StepValidateCart}
	if err := Validate(noID); err == nil {
		t.Error("expected error for missing job ID")
	}

	dup := &core.JobSpec{
		Name:    core.StepValidateCart,
		Options: core.JobOptions{JobID: "same"},
		Children: []core.JobSpec{{
			Name:    core.StepClearCart,
			Options: core.JobOptions{JobID: "same"},
		}},
	}
	if err := Validate(dup); err == nil {
		t.Error("expected error for duplicate job ID")
	}
}
