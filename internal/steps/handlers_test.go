package steps

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/flow"
	"github.com/commercekit/sagaflow/internal/worker"
)

func testRouter(t *testing.T) *worker.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := worker.NewRouter()
	if err := RegisterAll(router, LocalDeps(logger)); err != nil {
		t.Fatalf("RegisterAll error = %v", err)
	}
	return router
}

func TestRegisterAll_CoversEveryStep(t *testing.T) {
	router := testRouter(t)
	if err := router.Validate(); err != nil {
		t.Errorf("Validate() after RegisterAll error = %v", err)
	}
}

func checkoutTestJob(t *testing.T, step core.StepName, payload flow.CheckoutPayload) *core.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &core.Job{
		ID:      "flow-1-" + string(step),
		Name:    step,
		Queue:   core.QueueCheckout,
		FlowID:  "flow-1",
		Payload: data,
	}
}

func TestCheckoutHandlers_HappyPath(t *testing.T) {
	router := testRouter(t)
	payload := flow.CheckoutPayload{
		FlowID:        "flow-1",
		CartID:        "cart-1",
		CustomerID:    "cust-1",
		OrderID:       "ORD-1",
		PaymentMethod: "card",
	}

	// The forward path in dispatch order against one shared service set.
	for _, step := range []core.StepName{
		core.StepValidateCart,
		core.StepResolveAddress,
		core.StepReserveStock,
		core.StepCreateOrder,
		core.StepProcessPayment,
		core.StepConfirmReservation,
		core.StepConfirmOrder,
		core.StepClearCart,
		core.StepFinalizeCheckout,
	} {
		handler, err := router.Route(step)
		if err != nil {
			t.Fatalf("Route(%s) error = %v", step, err)
		}
		outcome := handler(context.Background(), checkoutTestJob(t, step, payload))
		if outcome.Kind != core.OutcomeSuccess {
			t.Fatalf("%s outcome = %v (%v), want success", step, outcome.Kind, outcome.Err)
		}
	}
}

func TestCheckoutHandlers_BusinessRuleViolationIsFatal(t *testing.T) {
	router := testRouter(t)

	handler, err := router.Route(core.StepValidateCart)
	if err != nil {
		t.Fatalf("Route error = %v", err)
	}

	// Empty cart ID violates a business rule; must not be retried.
	outcome := handler(context.Background(), checkoutTestJob(t, core.StepValidateCart, flow.CheckoutPayload{
		CustomerID: "cust-1",
	}))
	if outcome.Kind != core.OutcomeFatal {
		t.Errorf("outcome = %v, want fatal", outcome.Kind)
	}
}

func TestCheckoutHandlers_MalformedPayloadIsFatal(t *testing.T) {
	router := testRouter(t)

	handler, err := router.Route(core.StepCreateOrder)
	if err != nil {
		t.Fatalf("Route error = %v", err)
	}

	outcome := handler(context.Background(), &core.Job{
		ID:      "bad",
		Name:    core.StepCreateOrder,
		Payload: []byte("not json"),
	})
	if outcome.Kind != core.OutcomeFatal {
		t.Errorf("outcome = %v, want fatal for undecodable payload", outcome.Kind)
	}
}

func TestCompensationHandlers_ConvergeOnUnknownOrder(t *testing.T) {
	router := testRouter(t)
	payload := flow.CheckoutPayload{FlowID: "flow-1", OrderID: "ORD-never-created"}

	// Compensations for work that never happened settle cleanly instead
	// of retrying forever.
	for _, step := range []core.StepName{
		core.StepReleaseStock,
		core.StepReleaseOrderStock,
		core.StepCancelOrder,
		core.StepRefundPayment,
	} {
		handler, err := router.Route(step)
		if err != nil {
			t.Fatalf("Route(%s) error = %v", step, err)
		}
		outcome := handler(context.Background(), checkoutTestJob(t, step, payload))
		if outcome.Kind != core.OutcomeSuccess {
			t.Errorf("%s outcome = %v (%v), want success", step, outcome.Kind, outcome.Err)
		}
	}
}

func TestNotificationHandlers(t *testing.T) {
	router := testRouter(t)
	payload, err := json.Marshal(flow.NotificationPayload{
		FlowID: "flow-2",
		Notification: flow.NotificationTrigger{
			ID:     "notif-1",
			UserID: "user-1",
			Title:  "Order shipped",
		},
		Status: "DELIVERED",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	for _, step := range []core.StepName{
		core.StepUpdateNotificationStatus,
		core.StepSendNotification,
		core.StepSaveNotificationHistory,
		core.StepCleanupNotifications,
	} {
		handler, err := router.Route(step)
		if err != nil {
			t.Fatalf("Route(%s) error = %v", step, err)
		}
		outcome := handler(context.Background(), &core.Job{
			ID:      "flow-2-" + string(step),
			Name:    step,
			Queue:   core.QueueNotifications,
			FlowID:  "flow-2",
			Payload: payload,
		})
		if outcome.Kind != core.OutcomeSuccess {
			t.Errorf("%s outcome = %v (%v), want success", step, outcome.Kind, outcome.Err)
		}
	}
}
