package eventbus

import "time"

// Domain event types published by the resource services.
const (
	EventTaskCompleted       = "tasks.task.completed"
	EventPaymentReceived     = "wallet.payment.received"
	EventWithdrawalRequested = "wallet.withdrawal.requested"
	EventMembershipUpgraded  = "membership.tier.upgraded"
	EventComplaintSubmitted  = "complaints.complaint.submitted"
)

// Event represents an application event published to the bus.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Listener is a function that handles an event.
type Listener func(Event)
