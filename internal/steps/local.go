package steps

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/commercekit/sagaflow/internal/core"
)

// LocalServices is an in-memory implementation of every collaborator
// interface, used when the orchestrator runs without the downstream
// commerce services. State lives in process memory so the forward and
// compensation paths behave consistently within one run.
type LocalServices struct {
	logger *slog.Logger

	mu           sync.Mutex
	reservations map[string]string // orderID -> cartID
	orders       map[string]string // orderID -> status
	payments     map[string]string // orderID -> status
	history      map[string]time.Time
}

// LocalDeps wires one LocalServices instance into every collaborator slot.
func LocalDeps(logger *slog.Logger) Deps {
	svc := NewLocalServices(logger)
	return Deps{
		Carts:         svc,
		Addresses:     svc,
		Inventory:     svc,
		Orders:        svc,
		Payments:      svc,
		Notifications: svc,
	}
}

// NewLocalServices creates the in-memory collaborator set.
func NewLocalServices(logger *slog.Logger) *LocalServices {
	return &LocalServices{
		logger:       logger,
		reservations: make(map[string]string),
		orders:       make(map[string]string),
		payments:     make(map[string]string),
		history:      make(map[string]time.Time),
	}
}

func (s *LocalServices) ValidateCart(ctx context.Context, cartID string) error {
	if cartID == "" {
		return core.Fatal(fmt.Errorf("cart id is required"))
	}
	s.logger.Info("cart validated", "cart_id", cartID)
	return nil
}

func (s *LocalServices) ClearCart(ctx context.Context, cartID string) error {
	s.logger.Info("cart cleared", "cart_id", cartID)
	return nil
}

func (s *LocalServices) ResolveAddress(ctx context.Context, customerID string) error {
	if customerID == "" {
		return core.Fatal(fmt.Errorf("customer id is required"))
	}
	s.logger.Info("address resolved", "customer_id", customerID)
	return nil
}

func (s *LocalServices) ReserveStock(ctx context.Context, cartID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[orderID] = cartID
	s.logger.Info("stock reserved", "cart_id", cartID, "order_id", orderID)
	return nil
}

func (s *LocalServices) ConfirmReservation(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[orderID]; !ok {
		return core.Fatal(fmt.Errorf("no reservation for order %s", orderID))
	}
	s.logger.Info("reservation confirmed", "order_id", orderID)
	return nil
}

func (s *LocalServices) ReleaseStock(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, orderID)
	s.logger.Info("stock released", "order_id", orderID)
	return nil
}

func (s *LocalServices) ReleaseOrderStock(ctx context.Context, orderID string) error {
	return s.ReleaseStock(ctx, orderID)
}

func (s *LocalServices) CreateOrder(ctx context.Context, orderID, cartID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = "created"
	s.logger.Info("order created", "order_id", orderID, "cart_id", cartID, "customer_id", customerID)
	return nil
}

func (s *LocalServices) ConfirmOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders[orderID] == "" {
		return core.Fatal(fmt.Errorf("order %s does not exist", orderID))
	}
	s.orders[orderID] = "confirmed"
	s.logger.Info("order confirmed", "order_id", orderID)
	return nil
}

func (s *LocalServices) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = "cancelled"
	s.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

func (s *LocalServices) FinalizeCheckout(ctx context.Context, orderID string) error {
	s.logger.Info("checkout finalized", "order_id", orderID)
	return nil
}

func (s *LocalServices) ProcessPayment(ctx context.Context, orderID, customerID, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[orderID] = "charged"
	s.logger.Info("payment processed", "order_id", orderID, "customer_id", customerID, "method", method)
	return nil
}

func (s *LocalServices) RefundPayment(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payments[orderID] != "charged" {
		s.logger.Warn("refund requested without a charge", "order_id", orderID)
		return nil
	}
	s.payments[orderID] = "refunded"
	s.logger.Info("payment refunded", "order_id", orderID)
	return nil
}

func (s *LocalServices) Send(ctx context.Context, id, userID, title, message string) error {
	s.logger.Info("notification sent", "notification_id", id, "user_id", userID, "title", title)
	return nil
}

func (s *LocalServices) SaveHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = time.Now()
	return nil
}

func (s *LocalServices) UpdateStatus(ctx context.Context, id, status string) error {
	s.logger.Info("notification status updated", "notification_id", id, "status", status)
	return nil
}

// Cleanup drops notification history entries older than 30 days.
func (s *LocalServices) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -30)
	removed := 0
	for id, savedAt := range s.history {
		if savedAt.Before(cutoff) {
			delete(s.history, id)
			removed++
		}
	}
	s.logger.Info("notification history cleaned", "removed", removed)
	return nil
}
