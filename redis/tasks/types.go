package tasks

// Task types
const (
	TypeSyncDue        = "calendar:sync-due"
	TypeSyncUser       = "calendar:sync-user"
	TypeNotifyScan     = "notify:scan"
	TypeHealthCheck    = "health:check"
	TypeConnectionTest = "connection:test"
)

// TaskPriority defines priority levels for tasks
const (
	PriorityLow      = "low"
	PriorityDefault  = "default"
	PriorityCritical = "critical"
)

// SyncPayload represents the payload for a per-user sync task
type SyncPayload struct {
	UserID string `json:"user_id"`
	Full   bool   `json:"full,omitempty"`
}
