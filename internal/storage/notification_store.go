package storage

import (
	"context"
	"time"
)

// NotificationStatus tracks where a notification record is in its delivery
// lifecycle.
type NotificationStatus string

const (
	// StatusDisplayed means the record reached a connected window.
	StatusDisplayed NotificationStatus = "displayed"
	// StatusQueued means no window was connected; the record awaits the
	// fallback digest email.
	StatusQueued NotificationStatus = "queued"
	// StatusEmailed means the record was delivered via the digest email.
	StatusEmailed NotificationStatus = "emailed"
	// StatusFailed means display was attempted and failed.
	StatusFailed NotificationStatus = "failed"
)

// NotificationEntry is one row of notification history.
type NotificationEntry struct {
	ID        int64              `json:"id"`
	Tag       string             `json:"tag"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	NotifType string             `json:"type"`
	Route     string             `json:"route"`
	Status    NotificationStatus `json:"status"`
	ErrorMsg  string             `json:"error_msg,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	EmailedAt *time.Time         `json:"emailed_at,omitempty"`
}

// DeliveryRecorder receives a callback for every logged notification
// outcome. Implemented by the metrics collector.
type DeliveryRecorder interface {
	NotificationDelivered(status string)
}

// NotificationStore defines the interface for persisting notification
// history.
type NotificationStore interface {
	// Log records one notification outcome and returns its row id.
	Log(ctx context.Context, entry NotificationEntry) (int64, error)
	// ListHistory returns the most recent entries, up to limit.
	ListHistory(ctx context.Context, limit int) ([]NotificationEntry, error)
	// PendingDigest returns all queued entries, oldest first.
	PendingDigest(ctx context.Context) ([]NotificationEntry, error)
	// MarkEmailed transitions the given rows to StatusEmailed.
	MarkEmailed(ctx context.Context, ids []int64, at time.Time) error
}

// instrumentedStore wraps a NotificationStore and reports each logged
// outcome to a DeliveryRecorder.
type instrumentedStore struct {
	NotificationStore
	recorder DeliveryRecorder
}

// NewInstrumentedNotificationStore decorates inner so that every successful
// Log call is counted by recorder, keyed by outcome status.
func NewInstrumentedNotificationStore(inner NotificationStore, recorder DeliveryRecorder) NotificationStore {
	return &instrumentedStore{NotificationStore: inner, recorder: recorder}
}

func (s *instrumentedStore) Log(ctx context.Context, entry NotificationEntry) (int64, error) {
	id, err := s.NotificationStore.Log(ctx, entry)
	if err == nil {
		s.recorder.NotificationDelivered(string(entry.Status))
	}
	return id, err
}

func (s *instrumentedStore) MarkEmailed(ctx context.Context, ids []int64, at time.Time) error {
	if err := s.NotificationStore.MarkEmailed(ctx, ids, at); err != nil {
		return err
	}
	for range ids {
		s.recorder.NotificationDelivered(string(StatusEmailed))
	}
	return nil
}
