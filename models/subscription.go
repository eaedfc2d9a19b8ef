package models

import (
	"context"
	"time"
)

// DefaultAlarmMinutesBefore is the lead time applied when a subscriber has
// not configured one.
const DefaultAlarmMinutesBefore = 15

// SubscriptionKeys are the browser-issued encryption keys of a push
// subscription, carried verbatim from the subscribe call to the push sender.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// AlarmSettings control whether and when a subscriber is notified ahead of
// an event.
type AlarmSettings struct {
	Enabled          bool `json:"enabled"`
	MinutesBefore    int  `json:"minutes_before"`
	SoundEnabled     bool `json:"sound_enabled"`
	ShowNotification bool `json:"show_notification"`
}

// PushSubscription is a browser push endpoint registered by a user. A user
// may hold several, one per browser or device.
type PushSubscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	Alarm     AlarmSettings    `json:"alarm"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// PushSubscriptionRepository manages push subscription rows.
//
// Save is an upsert keyed by (user_id, endpoint). ListAlarmEnabled returns
// every subscription whose alarm is on and wants notifications shown, across
// all users. Delete by endpoint removes subscriptions whose push service
// rejected them permanently.
type PushSubscriptionRepository interface {
	Save(ctx context.Context, subscription *PushSubscription) error
	ListByUser(ctx context.Context, userID string) ([]PushSubscription, error)
	ListAlarmEnabled(ctx context.Context) ([]PushSubscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}
