package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			alarm_enabled = excluded.alarm_enabled,
			alarm_minutes_before = excluded.alarm_minutes_before,
			alarm_sound_enabled = excluded.alarm_sound_enabled,
			alarm_show_notification = excluded.alarm_show_notification,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, q,
		subscription.ID,
		subscription.UserID,
		subscription.Endpoint,
		subscription.Keys.P256dh,
		subscription.Keys.Auth,
		subscription.Alarm.Enabled,
		subscription.Alarm.MinutesBefore,
		subscription.Alarm.SoundEnabled,
		subscription.Alarm.ShowNotification,
		toUnix(subscription.CreatedAt),
		toUnix(subscription.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	// On conflict the existing row keeps its id; read it back.
	const idQ = `SELECT id FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`

	return r.db.QueryRowContext(ctx, idQ, subscription.UserID, subscription.Endpoint).Scan(&subscription.ID)
}

func (r *PushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at ASC`

	return r.list(ctx, q, userID)
}

func (r *PushSubscriptionRepository) ListAlarmEnabled(ctx context.Context) ([]models.PushSubscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions
		WHERE alarm_enabled = 1 AND alarm_show_notification = 1 ORDER BY created_at ASC`

	return r.list(ctx, q)
}

func (r *PushSubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`

	res, err := r.db.ExecContext(ctx, q, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	return requireRow(res)
}

// DeleteByEndpoint removes every subscription on the endpoint, regardless of
// user. Used when the push service reports the endpoint permanently gone.
func (r *PushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE endpoint = ?`

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
		var (
			s         models.PushSubscription
			createdAt int64
			updatedAt int64
		)

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
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		s.CreatedAt = fromUnix(createdAt)
		s.UpdatedAt = fromUnix(updatedAt)

		ans = append(ans, s)
	}

	return ans, rows.Err()
}
