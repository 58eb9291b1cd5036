package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/flow"
	"github.com/commercekit/sagaflow/internal/worker"
)

// Deps holds the business collaborators the step handlers delegate to.
type Deps struct {
	Carts         CartService
	Addresses     AddressService
	Inventory     InventoryService
	Orders        OrderService
	Payments      PaymentService
	Notifications NotificationService
}

// RegisterAll binds a handler for every declared step. The router's
// exhaustiveness check then guarantees no step can reach a worker without
// a handler behind it.
func RegisterAll(router *worker.Router, deps Deps) error {
	checkout := map[core.StepName]func(context.Context, flow.CheckoutPayload) error{
		core.StepValidateCart: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Carts.ValidateCart(ctx, p.CartID)
		},
		core.StepResolveAddress: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Addresses.ResolveAddress(ctx, p.CustomerID)
		},
		core.StepReserveStock: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Inventory.ReserveStock(ctx, p.CartID, p.OrderID)
		},
		core.StepCreateOrder: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Orders.CreateOrder(ctx, p.OrderID, p.CartID, p.CustomerID)
		},
		core.StepProcessPayment: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Payments.ProcessPayment(ctx, p.OrderID, p.CustomerID, p.PaymentMethod)
		},
		core.StepConfirmReservation: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Inventory.ConfirmReservation(ctx, p.OrderID)
		},
		core.StepConfirmOrder: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Orders.ConfirmOrder(ctx, p.OrderID)
		},
		core.StepClearCart: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Carts.ClearCart(ctx, p.CartID)
		},
		core.StepFinalizeCheckout: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Orders.FinalizeCheckout(ctx, p.OrderID)
		},
		core.StepReleaseStock: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Inventory.ReleaseStock(ctx, p.OrderID)
		},
		core.StepReleaseOrderStock: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Inventory.ReleaseOrderStock(ctx, p.OrderID)
		},
		core.StepCancelOrder: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Orders.CancelOrder(ctx, p.OrderID)
		},
		core.StepRefundPayment: func(ctx context.Context, p flow.CheckoutPayload) error {
			return deps.Payments.RefundPayment(ctx, p.OrderID)
		},
	}
	for step, fn := range checkout {
		if err := router.Register(step, checkoutHandler(step, fn)); err != nil {
			return err
		}
	}

	notification := map[core.StepName]func(context.Context, flow.NotificationPayload) error{
		core.StepUpdateNotificationStatus: func(ctx context.Context, p flow.NotificationPayload) error {
			return deps.Notifications.UpdateStatus(ctx, p.Notification.ID, p.Status)
		},
		core.StepSendNotification: func(ctx context.Context, p flow.NotificationPayload) error {
			n := p.Notification
			return deps.Notifications.Send(ctx, n.ID, n.UserID, n.Title, n.Message)
		},
		core.StepSaveNotificationHistory: func(ctx context.Context, p flow.NotificationPayload) error {
			return deps.Notifications.SaveHistory(ctx, p.Notification.ID)
		},
	}
	for step, fn := range notification {
		if err := router.Register(step, notificationHandler(step, fn)); err != nil {
			return err
		}
	}

	return router.Register(core.StepCleanupNotifications, func(ctx context.Context, job *core.Job) core.StepOutcome {
		return core.ClassifyError(deps.Notifications.Cleanup(ctx))
	})
}

// checkoutHandler wraps one checkout collaborator call: parse the payload,
// delegate, classify. Collaborators mark business-rule violations with
// core.Fatal; everything else is treated as transient.
func checkoutHandler(step core.StepName, fn func(context.Context, flow.CheckoutPayload) error) worker.Handler {
	return func(ctx context.Context, job *core.Job) core.StepOutcome {
		var payload flow.CheckoutPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return core.FatalOutcome(fmt.Errorf("decode payload for %s: %w", step, err))
		}
		return core.ClassifyError(fn(ctx, payload))
	}
}

func notificationHandler(step core.StepName, fn func(context.Context, flow.NotificationPayload) error) worker.Handler {
	return func(ctx context.Context, job *core.Job) core.StepOutcome {
		var payload flow.NotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return core.FatalOutcome(fmt.Errorf("decode payload for %s: %w", step, err))
		}
		return core.ClassifyError(fn(ctx, payload))
	}
}
