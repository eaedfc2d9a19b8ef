// Package handlers implements the HTTP API: provider authorization,
// on-demand sync, push subscription management, and delivery history.
package handlers

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/syncer"
)

// Dependencies aggregates shared services used by handlers.
type Dependencies struct {
	Logger        *zap.Logger
	DB            *sql.DB
	Provider      string
	Credentials   CredentialService
	Sync          SyncService
	Push          PushService
	Integrations  models.IntegrationRepository
	Subscriptions models.PushSubscriptionRepository
	Logs          models.NotificationLogRepository
	Validate      *validator.Validate
}

// HandlerGroup groups all handler categories for routing setup.
type HandlerGroup struct {
	Web         *WebHandlers
	Integration *IntegrationHandlers
	Sync        *SyncHandlers
	Push        *PushHandlers
}

// NewHandlerGroup constructs a HandlerGroup with initialized handlers.
func NewHandlerGroup(deps Dependencies) *HandlerGroup {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if deps.Provider == "" {
		deps.Provider = credentials.DefaultProvider
	}

	if deps.Validate == nil {
		deps.Validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &HandlerGroup{
		Web:         &WebHandlers{Deps: deps},
		Integration: &IntegrationHandlers{Deps: deps},
		Sync:        &SyncHandlers{Deps: deps},
		Push:        &PushHandlers{Deps: deps},
	}
}

// WebHandlers contains public routes: health and readiness.
type WebHandlers struct{ Deps Dependencies }

// IntegrationHandlers contains routes for the provider authorization
// lifecycle.
type IntegrationHandlers struct{ Deps Dependencies }

// SyncHandlers contains routes that trigger sync passes.
type SyncHandlers struct{ Deps Dependencies }

// PushHandlers contains routes for push subscriptions, test delivery, and
// delivery history.
type PushHandlers struct{ Deps Dependencies }

// CredentialService is the minimal surface handlers need from the
// credential store.
type CredentialService interface {
	BeginAuthorization(ctx context.Context, userID string) (string, error)
	CompleteAuthorization(ctx context.Context, state, code string) (string, error)
	Disconnect(ctx context.Context, userID string) error
}

// SyncService runs sync passes on demand.
type SyncService interface {
	FullSync(ctx context.Context, userID string) (*syncer.Result, error)
	IncrementalSync(ctx context.Context, userID string) (*syncer.Result, error)
}

// PushService sends test notifications outside the scan loop.
type PushService interface {
	SendTest(ctx context.Context, sub *models.PushSubscription) error
}
