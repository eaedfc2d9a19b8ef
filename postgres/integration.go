package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dayframe/calsync/models"
)

var _ models.IntegrationRepository = (*IntegrationRepository)(nil)

type IntegrationRepository struct {
	db *sql.DB
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = `id, user_id, provider, access_token, refresh_token, expiry,
	sync_cursor, sync_status, last_error, label_filters, last_sync_at, created_at, updated_at`

func (r *IntegrationRepository) Get(ctx context.Context, userID, provider string) (*models.Integration, error) {
	q := `SELECT ` + integrationColumns + ` FROM user_integrations WHERE user_id = $1 AND provider = $2`

	return scanIntegration(r.db.QueryRowContext(ctx, q, userID, provider))
}

// Save upserts the integration keyed by (user_id, provider). On conflict it
// replaces the credential fields and status but keeps the existing sync
// cursor and label filters, so re-authorizing does not force a full resync.
func (r *IntegrationRepository) Save(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}

	integration.UpdatedAt = now

	filters, err := json.Marshal(integration.LabelFilters)
	if err != nil {
		return fmt.Errorf("failed to marshal label filters: %w", err)
	}

	const q = `
		INSERT INTO user_integrations
			(id, user_id, provider, access_token, refresh_token, expiry,
			 sync_cursor, sync_status, last_error, label_filters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			sync_status = EXCLUDED.sync_status,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, q,
		integration.ID,
		integration.UserID,
		integration.Provider,
		integration.AccessToken,
		integration.RefreshToken,
		integration.Expiry,
		integration.SyncCursor,
		integration.Status,
		integration.LastError,
		filters,
		integration.CreatedAt,
		integration.UpdatedAt,
	).Scan(&integration.ID)
}

func (r *IntegrationRepository) UpdateTokens(ctx context.Context, userID, provider string, accessToken, refreshToken []byte, expiry time.Time) error {
	const q = `
		UPDATE user_integrations
		SET access_token = $3, refresh_token = $4, expiry = $5, updated_at = $6
		WHERE user_id = $1 AND provider = $2
	`

	res, err := r.db.ExecContext(ctx, q, userID, provider, accessToken, refreshToken, expiry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	return requireRow(res)
}

func (r *IntegrationRepository) UpdateSyncStatus(ctx context.Context, userID, provider, status, lastError string) error {
	const q = `
		UPDATE user_integrations
		SET sync_status = $3, last_error = $4, updated_at = $5
		WHERE user_id = $1 AND provider = $2
	`

	res, err := r.db.ExecContext(ctx, q, userID, provider, status, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	return requireRow(res)
}

func (r *IntegrationRepository) UpdateSyncCursor(ctx context.Context, userID, provider, cursor string, syncedAt time.Time) error {
	const q = `
		UPDATE user_integrations
		SET sync_cursor = $3, last_sync_at = $4, updated_at = $5
		WHERE user_id = $1 AND provider = $2
	`

	res, err := r.db.ExecContext(ctx, q, userID, provider, cursor, syncedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}

	return requireRow(res)
}

func (r *IntegrationRepository) ListByProvider(ctx context.Context, provider string) ([]models.Integration, error) {
	q := `SELECT ` + integrationColumns + ` FROM user_integrations WHERE provider = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	defer rows.Close()

	var ans []models.Integration

	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, *integration)
	}

	return ans, rows.Err()
}

func (r *IntegrationRepository) Delete(ctx context.Context, userID, provider string) error {
	const q = `DELETE FROM user_integrations WHERE user_id = $1 AND provider = $2`

	res, err := r.db.ExecContext(ctx, q, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}

	return requireRow(res)
}

func scanIntegration(row scannable) (*models.Integration, error) {
	var (
		i          models.Integration
		filters    []byte
		lastSyncAt sql.NullTime
	)

	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Provider,
		&i.AccessToken,
		&i.RefreshToken,
		&i.Expiry,
		&i.SyncCursor,
		&i.Status,
		&i.LastError,
		&filters,
		&lastSyncAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	if lastSyncAt.Valid {
		i.LastSyncAt = lastSyncAt.Time
	}

	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &i.LabelFilters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal label filters: %w", err)
		}
	}

	return &i, nil
}
