package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteNotificationStore implements NotificationStore backed by SQLite.
type SQLiteNotificationStore struct {
	db *sql.DB
}

// NewSQLiteNotificationStore returns a new SQLiteNotificationStore.
func NewSQLiteNotificationStore(db *sql.DB) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{db: db}
}

// Log inserts a notification history record and returns its row id.
func (s *SQLiteNotificationStore) Log(ctx context.Context, entry NotificationEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_history (tag, title, body, notif_type, route, status, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Tag, entry.Title, entry.Body, entry.NotifType,
		entry.Route, string(entry.Status), entry.ErrorMsg, entry.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting notification history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return id, nil
}

// ListHistory returns the most recent entries ordered by created_at descending.
func (s *SQLiteNotificationStore) ListHistory(ctx context.Context, limit int) ([]NotificationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, title, body, notif_type, route, status, error_msg, created_at, emailed_at
		FROM notification_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notification history: %w", err)
	}
	return scanEntries(rows)
}

// PendingDigest returns all queued entries, oldest first, so the digest
// email reads chronologically.
func (s *SQLiteNotificationStore) PendingDigest(ctx context.Context) ([]NotificationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, title, body, notif_type, route, status, error_msg, created_at, emailed_at
		FROM notification_history
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`, string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("querying pending digest: %w", err)
	}
	return scanEntries(rows)
}

// MarkEmailed transitions the given rows to StatusEmailed with the delivery
// timestamp. A nil or empty id list is a no-op.
func (s *SQLiteNotificationStore) MarkEmailed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, string(StatusEmailed), at)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE notification_history
		SET status = ?, emailed_at = ?
		WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking notifications emailed: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) (entries []NotificationEntry, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	for rows.Next() {
		var e NotificationEntry
		var status string
		var emailedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Tag, &e.Title, &e.Body, &e.NotifType,
			&e.Route, &status, &e.ErrorMsg, &e.CreatedAt, &emailedAt); err != nil {
			return nil, fmt.Errorf("scanning notification history row: %w", err)
		}
		e.Status = NotificationStatus(status)
		if emailedAt.Valid {
			t := emailedAt.Time
			e.EmailedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification history rows: %w", err)
	}
	return entries, nil
}
