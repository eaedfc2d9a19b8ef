package models

import (
	"context"
	"time"
)

// Event status constants
const (
	EventStatusScheduled = "scheduled"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"
)

// Event type constants
const (
	EventTypeEvent    = "event"
	EventTypeMeeting  = "meeting"
	EventTypeReminder = "reminder"
)

// SyncSourceManual marks events created by the user rather than imported
// from a provider. Imported events carry the provider name as their source.
const SyncSourceManual = "manual"

// Event is a calendar entry. Imported events keep the provider-native
// identifier in ExternalID so repeated syncs of the same invitation do not
// create duplicates.
type Event struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              time.Time  `json:"end_date"`
	Location             string     `json:"location,omitempty"`
	Type                 string     `json:"type"`
	Status               string     `json:"status"`
	SyncSource           string     `json:"sync_source"`
	ExternalID           string     `json:"external_id,omitempty"`
	LastExternalSync     *time.Time `json:"last_external_sync,omitempty"`
	LastNotificationSent *time.Time `json:"last_notification_sent,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// EventRepository manages calendar event rows.
//
// Create assigns the event an ID when unset and returns ErrDuplicate when
// the dedup key (user, sync source, external id) is already taken.
// GetByExternalID returns ErrNotFound when no imported event matches, which
// is how the sync engine decides between insert and skip. ListUpcoming
// returns scheduled events starting inside [from, to), ordered by start
// date, for the notification scanner.
type EventRepository interface {
	Create(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	GetByExternalID(ctx context.Context, userID, syncSource, externalID string) (*Event, error)
	ListUpcoming(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
	MarkNotified(ctx context.Context, id string, sentAt time.Time) error
	Delete(ctx context.Context, id string) error
}
