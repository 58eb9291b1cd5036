// Package steps binds the orchestrator to the business collaborators that
// execute each unit of work. The orchestrator treats every step as opaque:
// a handler parses the pass-through payload, calls one collaborator
// method, and classifies the result. Business rules live behind the
// interfaces, not here.
package steps

import "context"

// CartService validates and clears shopping carts.
type CartService interface {
	ValidateCart(ctx context.Context, cartID string) error
	ClearCart(ctx context.Context, cartID string) error
}

// AddressService resolves a customer's shipping address.
type AddressService interface {
	ResolveAddress(ctx context.Context, customerID string) error
}

// InventoryService reserves and releases stock.
type InventoryService interface {
	ReserveStock(ctx context.Context, cartID, orderID string) error
	ConfirmReservation(ctx context.Context, orderID string) error
	ReleaseStock(ctx context.Context, orderID string) error
	ReleaseOrderStock(ctx context.Context, orderID string) error
}

// OrderService creates and settles orders.
type OrderService interface {
	CreateOrder(ctx context.Context, orderID, cartID, customerID string) error
	ConfirmOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
	FinalizeCheckout(ctx context.Context, orderID string) error
}

// PaymentService charges and refunds payments.
type PaymentService interface {
	ProcessPayment(ctx context.Context, orderID, customerID, method string) error
	RefundPayment(ctx context.Context, orderID string) error
}

// NotificationService delivers notifications and maintains their records.
type NotificationService interface {
	Send(ctx context.Context, id, userID, title, message string) error
	SaveHistory(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id, status string) error
	Cleanup(ctx context.Context) error
}
