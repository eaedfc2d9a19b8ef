package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dayframe/calsync/models"
)

var _ models.EventRepository = (*EventRepository)(nil)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, user_id, title, description, start_date, end_date, location,
	type, status, sync_source, external_id, last_external_sync, last_notification_sent,
	created_at, updated_at`

// Create inserts the event, assigning an ID when unset. A unique-key clash on
// (user_id, sync_source, external_id) reports models.ErrDuplicate so the sync
// engine can treat concurrent inserts of the same invitation as a skip.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	event.UpdatedAt = now

	const q = `
		INSERT INTO events
			(id, user_id, title, description, start_date, end_date, location,
			 type, status, sync_source, external_id, last_external_sync,
			 last_notification_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, q,
		event.ID,
		event.UserID,
		event.Title,
		event.Description,
		event.StartDate,
		event.EndDate,
		event.Location,
		event.Type,
		event.Status,
		event.SyncSource,
		event.ExternalID,
		event.LastExternalSync,
		event.LastNotificationSent,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return models.ErrDuplicate
	}

	return nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	return scanEvent(r.db.QueryRowContext(ctx, q, id))
}

func (r *EventRepository) GetByExternalID(ctx context.Context, userID, syncSource, externalID string) (*models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events
		WHERE user_id = $1 AND sync_source = $2 AND external_id = $3`

	return scanEvent(r.db.QueryRowContext(ctx, q, userID, syncSource, externalID))
}

func (r *EventRepository) ListUpcoming(ctx context.Context, userID string, from, to time.Time) ([]models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events
		WHERE user_id = $1 AND status = $2 AND start_date >= $3 AND start_date < $4
		ORDER BY start_date ASC`

	rows, err := r.db.QueryContext(ctx, q, userID, models.EventStatusScheduled, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}

	defer rows.Close()

	var ans []models.Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, *event)
	}

	return ans, rows.Err()
}

func (r *EventRepository) MarkNotified(ctx context.Context, id string, sentAt time.Time) error {
	const q = `UPDATE events SET last_notification_sent = $2, updated_at = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, id, sentAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark event notified: %w", err)
	}

	return requireRow(res)
}

func (r *EventRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM events WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	return requireRow(res)
}

func scanEvent(row scannable) (*models.Event, error) {
	var (
		e            models.Event
		externalSync sql.NullTime
		notifiedAt   sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Title,
		&e.Description,
		&e.StartDate,
		&e.EndDate,
		&e.Location,
		&e.Type,
		&e.Status,
		&e.SyncSource,
		&e.ExternalID,
		&externalSync,
		&notifiedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if externalSync.Valid {
		t := externalSync.Time
		e.LastExternalSync = &t
	}

	if notifiedAt.Valid {
		t := notifiedAt.Time
		e.LastNotificationSent = &t
	}

	return &e, nil
}
