package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/viralboost/boostd/internal/eventbus"
)

const bridgePushTimeout = 30 * time.Second

// EventBridge converts domain events published on the bus into local push
// records and feeds them to the dispatcher. Its Handle method is registered
// as an eventbus listener, so each event becomes a notification without any
// round trip through the backend push stream.
type EventBridge struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewEventBridge creates a bridge delivering into d.
func NewEventBridge(d *Dispatcher, logger *slog.Logger) *EventBridge {
	return &EventBridge{dispatcher: d, logger: logger}
}

// Handle translates one event into a push. Event types with no notification
// mapping are ignored.
func (b *EventBridge) Handle(e eventbus.Event) {
	rec, ok := recordForEvent(e)
	if !ok {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error("Failed to encode event notification", "event", e.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bridgePushTimeout)
	defer cancel()
	if err := b.dispatcher.Push(ctx, payload); err != nil {
		b.logger.Error("Failed to push event notification", "event", e.Type, "error", err)
	}
}

func recordForEvent(e eventbus.Event) (Record, bool) {
	switch e.Type {
	case eventbus.EventTaskCompleted:
		body := "Your task was completed."
		if reward := e.Payload["reward"]; reward != "" {
			body = "Task completed. You earned $" + reward + "."
		}
		return Record{
			Title: "Task completed",
			Body:  body,
			Tag:   "task-" + e.Payload["task_id"],
			Data:  Data{Type: "task"},
		}, true
	case eventbus.EventPaymentReceived:
		body := "A payment arrived in your wallet."
		if amount := e.Payload["amount"]; amount != "" {
			body = "You received $" + amount + "."
		}
		return Record{
			Title: "Payment received",
			Body:  body,
			Tag:   "payment-received",
			Data:  Data{Type: "payment"},
		}, true
	case eventbus.EventWithdrawalRequested:
		body := "Your withdrawal request was submitted."
		if amount := e.Payload["amount"]; amount != "" {
			body = "Withdrawal of $" + amount + " submitted."
		}
		return Record{
			Title: "Withdrawal requested",
			Body:  body,
			Tag:   "withdrawal-" + e.Payload["withdrawal_id"],
			Data:  Data{Type: "payment"},
		}, true
	case eventbus.EventMembershipUpgraded:
		body := "Your membership was upgraded."
		if plan := e.Payload["plan"]; plan != "" {
			body = "Welcome to the " + plan + " plan."
		}
		return Record{
			Title: "Membership upgraded",
			Body:  body,
			Tag:   "membership-upgrade",
			Data:  Data{Type: "membership"},
		}, true
	case eventbus.EventComplaintSubmitted:
		return Record{
			Title: "Complaint submitted",
			Body:  "We received your complaint and will review it shortly.",
			Tag:   "complaint-" + e.Payload["complaint_id"],
			Data:  Data{Type: "complaint"},
		}, true
	default:
		return Record{}, false
	}
}
