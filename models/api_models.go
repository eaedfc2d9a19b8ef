package models

import "time"

// APIError is the JSON error envelope returned by every API handler.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ConnectResponse carries the provider consent URL that starts an
// authorization flow. The client opens it in a browser; the provider
// redirects back to the callback route when the user approves.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// CallbackResponse confirms a completed authorization.
type CallbackResponse struct {
	Connected bool   `json:"connected"`
	UserID    string `json:"user_id"`
}

// IntegrationStatusResponse reports the connection state of a provider
// integration, including the outcome of its last sync pass.
type IntegrationStatusResponse struct {
	Connected    bool       `json:"connected"`
	Provider     string     `json:"provider,omitempty"`
	Status       string     `json:"status,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LabelFilters []string   `json:"label_filters,omitempty"`
}

// SyncResponse summarizes a completed sync pass. Full reports whether the
// pass rescanned the whole mailbox window rather than a cursor diff.
type SyncResponse struct {
	Mode     string `json:"mode"`
	Full     bool   `json:"full"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Cursor   string `json:"cursor,omitempty"`
}

// TestPushResponse reports how many test notifications went out.
type TestPushResponse struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
