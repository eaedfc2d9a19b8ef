package models

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate row")
)

// Integration sync status constants
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// DefaultLabelFilter is the provider label scope a new integration starts with.
const DefaultLabelFilter = "INBOX"

// Integration represents an external calendar provider connection for a user.
// At most one row exists per (user, provider). Tokens are stored encrypted
// and only decrypted in memory.
type Integration struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	AccessToken  []byte    `json:"-"` // Stored encrypted
	RefreshToken []byte    `json:"-"` // Stored encrypted
	Expiry       time.Time `json:"expiry"`
	SyncCursor   string    `json:"sync_cursor,omitempty"`
	Status       string    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	LabelFilters []string  `json:"label_filters"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IntegrationRepository manages user integration operations.
//
// Save is an upsert keyed by (user_id, provider): on conflict it refreshes
// the credential fields and resets status, keeping the sync cursor and
// label filters of the existing row so re-authorizing does not force a full
// resync. The Update* methods touch only their own columns so the sync
// engine and the credential store can write concurrently without clobbering
// each other's fields.
type IntegrationRepository interface {
	Get(ctx context.Context, userID, provider string) (*Integration, error)
	Save(ctx context.Context, integration *Integration) error
	UpdateTokens(ctx context.Context, userID, provider string, accessToken, refreshToken []byte, expiry time.Time) error
	UpdateSyncStatus(ctx context.Context, userID, provider, status, lastError string) error
	UpdateSyncCursor(ctx context.Context, userID, provider, cursor string, syncedAt time.Time) error
	ListByProvider(ctx context.Context, provider string) ([]Integration, error)
	Delete(ctx context.Context, userID, provider string) error
}
