package models

import (
	"context"
	"time"
)

// NotificationLog records one push delivery attempt, successful or not.
type NotificationLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Payload   string    `json:"payload"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationLogRepository appends and reads delivery history.
type NotificationLogRepository interface {
	Append(ctx context.Context, entry *NotificationLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]NotificationLog, error)
}
