package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dayframe/calsync/models"
)

var _ models.NotificationLogRepository = (*NotificationLogRepository)(nil)

// NotificationLogRepository stores the append-only push delivery history.
type NotificationLogRepository struct {
	db *sql.DB
}

func NewNotificationLogRepository(db *sql.DB) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

func (r *NotificationLogRepository) Append(ctx context.Context, entry *models.NotificationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO notification_log (id, user_id, event_id, endpoint, payload, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, q,
		entry.ID,
		entry.UserID,
		entry.EventID,
		entry.Endpoint,
		entry.Payload,
		entry.Success,
		entry.Error,
		toUnix(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}

	return nil
}

func (r *NotificationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.NotificationLog, error) {
	const q = `
		SELECT id, user_id, event_id, endpoint, payload, success, error, created_at
		FROM notification_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification log: %w", err)
	}

	defer rows.Close()

	var ans []models.NotificationLog

	for rows.Next() {
		var (
			entry     models.NotificationLog
			createdAt int64
		)

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.EventID,
			&entry.Endpoint,
			&entry.Payload,
			&entry.Success,
			&entry.Error,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification log entry: %w", err)
		}

		entry.CreatedAt = fromUnix(createdAt)

		ans = append(ans, entry)
	}

	return ans, rows.Err()
}
