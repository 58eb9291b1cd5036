package core

// StepName identifies one unit of work in a flow. The set of step names is
// closed: every name a flow can reference is declared here and routed to a
// fixed queue, so a missing handler or a typo fails at startup instead of
// surfacing as an unroutable message in production.
type StepName string

// Checkout saga steps, in dispatch order.
const (
	StepValidateCart       StepName = "validate-cart"
	StepResolveAddress     StepName = "resolve-address"
	StepReserveStock       StepName = "reserve-stock"
	StepCreateOrder        StepName = "create-order"
	StepProcessPayment     StepName = "process-payment"
	StepConfirmReservation StepName = "confirm-reservation"
	StepConfirmOrder       StepName = "confirm-order"
	StepClearCart          StepName = "clear-cart"
	StepFinalizeCheckout   StepName = "finalize-checkout"
)

// Compensation steps, dispatched when a checkout step fails fatally.
const (
	StepReleaseStock      StepName = "release-stock"
	StepReleaseOrderStock StepName = "release-order-stock"
	StepCancelOrder       StepName = "cancel-order"
	StepRefundPayment     StepName = "refund-payment"
)

// Notification pipeline steps.
const (
	StepSendNotification         StepName = "send-notification"
	StepSaveNotificationHistory  StepName = "save-notification-history"
	StepUpdateNotificationStatus StepName = "update-notification-status"
	StepCleanupNotifications     StepName = "cleanup-notifications"
)

// Queue names. Each step belongs to exactly one queue.
const (
	QueueCheckout      = "checkout"
	QueueNotifications = "notifications"
	QueueCompensation  = "compensation"
	QueueMaintenance   = "maintenance"
)

var allSteps = []StepName{
	StepValidateCart,
	StepResolveAddress,
	StepReserveStock,
	StepCreateOrder,
	StepProcessPayment,
	StepConfirmReservation,
	StepConfirmOrder,
	StepClearCart,
	StepFinalizeCheckout,
	StepReleaseStock,
	StepReleaseOrderStock,
	StepCancelOrder,
	StepRefundPayment,
	StepSendNotification,
	StepSaveNotificationHistory,
	StepUpdateNotificationStatus,
	StepCleanupNotifications,
}

var stepQueues = map[StepName]string{
	StepValidateCart:       QueueCheckout,
	StepResolveAddress:     QueueCheckout,
	StepReserveStock:       QueueCheckout,
	StepCreateOrder:        QueueCheckout,
	StepProcessPayment:     QueueCheckout,
	StepConfirmReservation: QueueCheckout,
	StepConfirmOrder:       QueueCheckout,
	StepClearCart:          QueueCheckout,
	StepFinalizeCheckout:   QueueCheckout,

	StepReleaseStock:      QueueCompensation,
	StepReleaseOrderStock: QueueCompensation,
	StepCancelOrder:       QueueCompensation,
	StepRefundPayment:     QueueCompensation,

	StepSendNotification:         QueueNotifications,
	StepSaveNotificationHistory:  QueueNotifications,
	StepUpdateNotificationStatus: QueueNotifications,
	StepCleanupNotifications:     QueueMaintenance,
}

// AllSteps returns every declared step name.
func AllSteps() []StepName {
	out := make([]StepName, len(allSteps))
	copy(out, allSteps)
	return out
}

// IsValidStep reports whether name belongs to the declared step set.
func IsValidStep(name StepName) bool {
	_, ok := stepQueues[name]
	return ok
}

// QueueForStep returns the queue a step is dispatched on.
func QueueForStep(name StepName) (string, error) {
	queue, ok := stepQueues[name]
	if !ok {
		return "", NewConfigurationError("unknown step name: " + string(name))
	}
	return queue, nil
}

// AllQueues returns the distinct queue names workers must poll.
func AllQueues() []string {
	return []string{QueueCheckout, QueueNotifications, QueueCompensation, QueueMaintenance}
}
