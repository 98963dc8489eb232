package datatypes

// DeliveryStatus is the lifecycle state of a webhook delivery.
type DeliveryStatus string

// Delivery states. Delivered, Failed and DeadLetter are terminal.
const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryInProgress DeliveryStatus = "in_progress"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryRetrying   DeliveryStatus = "retrying"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// IsTerminal reports whether no further delivery attempts are made automatically.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailed, DeliveryDeadLetter:
		return true
	case DeliveryPending, DeliveryInProgress, DeliveryRetrying:
		return false
	}

	return false
}

// NonTerminalStatuses lists the states a restart must re-enqueue.
func NonTerminalStatuses() []DeliveryStatus {
	return []DeliveryStatus{DeliveryPending, DeliveryInProgress, DeliveryRetrying}
}
