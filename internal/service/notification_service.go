package service

import (
	"context"
	"fmt"

	"github.com/viralboost/boostd/internal/storage"
)

// NotificationService exposes the delivery history kept by the dispatcher.
type NotificationService interface {
	ListHistory(ctx context.Context, limit int) ([]storage.NotificationEntry, error)
}

type notificationServiceImpl struct {
	store storage.NotificationStore
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(store storage.NotificationStore) NotificationService {
	return &notificationServiceImpl{store: store}
}

func (s *notificationServiceImpl) ListHistory(ctx context.Context, limit int) ([]storage.NotificationEntry, error) {
	if limit < 0 {
		return nil, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	entries, err := s.store.ListHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notification history: %w", err)
	}
	return entries, nil
}
