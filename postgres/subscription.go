package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dayframe/calsync/models"
)

var _ models.PushSubscriptionRepository = (*PushSubscriptionRepository)(nil)

type PushSubscriptionRepository struct {
	db *sql.DB
}

func NewPushSubscriptionRepository(db *sql.DB) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, alarm_enabled,
	alarm_minutes_before, alarm_sound_enabled, alarm_show_notification, created_at, updated_at`

// Save upserts the subscription keyed by (user_id, endpoint), so repeated
// subscribe calls from the same browser update the alarm settings in place.
func (r *PushSubscriptionRepository) Save(ctx context.Context, subscription *models.PushSubscription) error {
	if subscription.ID == "" {
		subscription.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	subscription.UpdatedAt = now

	const q = `
		INSERT INTO push_subscriptions
			(id, user_id, endpoint, p256dh, auth, alarm_enabled, alarm_minutes_before,
			 alarm_sound_enabled, alarm_show_notification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			alarm_enabled = EXCLUDED.alarm_enabled,
			alarm_minutes_before = EXCLUDED.alarm_minutes_before,
			alarm_sound_enabled = EXCLUDED.alarm_sound_enabled,
			alarm_show_notification = EXCLUDED.alarm_show_notification,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, q,
		subscription.ID,
		subscription.UserID,
		subscription.Endpoint,
		subscription.Keys.P256dh,
		subscription.Keys.Auth,
		subscription.Alarm.Enabled,
		subscription.Alarm.MinutesBefore,
		subscription.Alarm.SoundEnabled,
		subscription.Alarm.ShowNotification,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Scan(&subscription.ID)
}

func (r *PushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at ASC`

	return r.list(ctx, q, userID)
}

func (r *PushSubscriptionRepository) ListAlarmEnabled(ctx context.Context) ([]models.PushSubscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions
		WHERE alarm_enabled AND alarm_show_notification ORDER BY created_at ASC`

	return r.list(ctx, q)
}

func (r *PushSubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`

	res, err := r.db.ExecContext(ctx, q, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	return requireRow(res)
}

// DeleteByEndpoint removes every subscription on the endpoint, regardless of
// user. Used when the push service reports the endpoint permanently gone.
func (r *PushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE endpoint = $1`

	_, err := r.db.ExecContext(ctx, q, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscriptions by endpoint: %w", err)
	}

	return nil
}

func (r *PushSubscriptionRepository) list(ctx context.Context, q string, args ...any) ([]models.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	defer rows.Close()

	var ans []models.PushSubscription

	for rows.Next() {
		var s models.PushSubscription

		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Endpoint,
			&s.Keys.P256dh,
			&s.Keys.Auth,
			&s.Alarm.Enabled,
			&s.Alarm.MinutesBefore,
			&s.Alarm.SoundEnabled,
			&s.Alarm.ShowNotification,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		ans = append(ans, s)
	}

	return ans, rows.Err()
}
