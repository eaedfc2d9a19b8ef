// Package syncer pulls calendar events out of a user's mailbox and into the
// local event store. A full pass scans candidate messages from scratch; an
// incremental pass diffs against a stored provider cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/gmail"
	"github.com/dayframe/calsync/models"
)

const (
	// staleSyncAfter is how long a syncing marker may sit before it is
	// considered abandoned by a crashed run and reclaimed.
	staleSyncAfter = 15 * time.Minute

	// maxErrorLen bounds the error text persisted on the integration row.
	maxErrorLen = 500
)

// ErrSyncInProgress means another sync pass currently holds the
// integration's soft lock. Callers should skip this tick, not fail.
var ErrSyncInProgress = errors.New("sync already in progress")

// Provider is the slice of the mail provider the engine needs.
// *gmail.Client satisfies it.
type Provider interface {
	ListCandidates(ctx context.Context, labelFilters []string) ([]string, error)
	MessagePayloads(ctx context.Context, messageID string) ([][]byte, error)
	ChangesSince(ctx context.Context, cursor string) (ids []string, newCursor string, err error)
	CurrentCursor(ctx context.Context) (string, error)
}

// ProviderSource builds an authenticated Provider for one user, typically
// by resolving a fresh access token first.
type ProviderSource func(ctx context.Context, userID string) (Provider, error)

// Result summarizes one sync pass.
type Result struct {
	Inserted int
	Skipped  int
	Failed   int
	Cursor   string
	Full     bool

	// MessageErrors aggregates per-message failures that were logged and
	// skipped so the rest of the batch could proceed. Never fatal.
	MessageErrors error
}

// Engine runs sync passes against the event store. All locking is per user:
// the integration's status column acts as a soft lock, and the event dedup
// key makes the rare double-run harmless.
type Engine struct {
	integrations models.IntegrationRepository
	events       models.EventRepository
	providers    ProviderSource
	providerName string
	logger       *zap.Logger
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithLogger attaches a logger. Without it the engine stays silent.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProviderName overrides the sync source tag written on imported events.
func WithProviderName(name string) Option {
	return func(e *Engine) { e.providerName = name }
}

// New builds a sync engine.
func New(integrations models.IntegrationRepository, events models.EventRepository, providers ProviderSource, opts ...Option) *Engine {
	e := &Engine{
		integrations: integrations,
		events:       events,
		providers:    providers,
		providerName: "google",
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// FullSync rescans the user's mailbox for calendar payloads and stores the
// provider's current cursor for later incremental passes.
func (e *Engine) FullSync(ctx context.Context, userID string) (*Result, error) {
	integration, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := e.acquire(ctx, integration); err != nil {
		return nil, err
	}

	return e.run(ctx, userID, func(ctx context.Context, prov Provider) (*Result, error) {
		return e.fullPass(ctx, prov, integration)
	})
}

// IncrementalSync processes only messages added since the stored cursor. An
// integration that has never completed a full pass has no cursor yet, so
// the work degrades to a full pass under the same lock. No changes is the
// common case and does no writes beyond the status flip.
func (e *Engine) IncrementalSync(ctx context.Context, userID string) (*Result, error) {
	integration, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := e.acquire(ctx, integration); err != nil {
		return nil, err
	}

	return e.run(ctx, userID, func(ctx context.Context, prov Provider) (*Result, error) {
		if integration.SyncCursor == "" {
			return e.fullPass(ctx, prov, integration)
		}

		ids, newCursor, err := prov.ChangesSince(ctx, integration.SyncCursor)
		if errors.Is(err, gmail.ErrCursorExpired) {
			e.logger.Info("sync cursor expired, running full pass",
				zap.String("user_id", userID),
			)

			return e.fullPass(ctx, prov, integration)
		}

		if err != nil {
			return nil, fmt.Errorf("changes since cursor: %w", err)
		}

		if len(ids) == 0 {
			return &Result{Cursor: integration.SyncCursor}, nil
		}

		res := e.processMessages(ctx, prov, userID, ids)

		if err := e.integrations.UpdateSyncCursor(ctx, userID, e.providerName, newCursor, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("persist cursor: %w", err)
		}

		res.Cursor = newCursor

		e.logger.Info("incremental sync finished",
			zap.String("user_id", userID),
			zap.Int("inserted", res.Inserted),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)

		return res, nil
	})
}

func (e *Engine) load(ctx context.Context, userID string) (*models.Integration, error) {
	integration, err := e.integrations.Get(ctx, userID, e.providerName)
	if err != nil {
		return nil, fmt.Errorf("integration for user %s: %w", userID, err)
	}

	return integration, nil
}

// acquire flips the integration to syncing. The status column is only a
// soft lock: a row already marked syncing is skipped unless the marker is
// stale, which happens when an earlier run died mid-pass.
func (e *Engine) acquire(ctx context.Context, integration *models.Integration) error {
	if integration.Status == models.SyncStatusSyncing && time.Since(integration.UpdatedAt) < staleSyncAfter {
		return ErrSyncInProgress
	}

	if err := e.integrations.UpdateSyncStatus(ctx, integration.UserID, e.providerName, models.SyncStatusSyncing, integration.LastError); err != nil {
		return fmt.Errorf("mark syncing: %w", err)
	}

	return nil
}

// run executes one pass and always settles the status column afterwards:
// idle on success, error plus a truncated message on failure. The status
// write uses a detached context because the pass may have failed on the
// caller's context being cancelled.
func (e *Engine) run(ctx context.Context, userID string, pass func(context.Context, Provider) (*Result, error)) (res *Result, err error) {
	defer func() {
		settleCtx := context.WithoutCancel(ctx)

		if err != nil {
			e.logger.Error("sync failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)

			if statusErr := e.integrations.UpdateSyncStatus(settleCtx, userID, e.providerName, models.SyncStatusError, truncateError(err)); statusErr != nil {
				e.logger.Error("record sync error", zap.String("user_id", userID), zap.Error(statusErr))
			}

			return
		}

		if statusErr := e.integrations.UpdateSyncStatus(settleCtx, userID, e.providerName, models.SyncStatusIdle, ""); statusErr != nil {
			e.logger.Error("mark idle", zap.String("user_id", userID), zap.Error(statusErr))
		}
	}()

	prov, err := e.providers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	return pass(ctx, prov)
}

func (e *Engine) fullPass(ctx context.Context, prov Provider, integration *models.Integration) (*Result, error) {
	ids, err := prov.ListCandidates(ctx, integration.LabelFilters)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	res := e.processMessages(ctx, prov, integration.UserID, ids)
	res.Full = true

	cursor, err := prov.CurrentCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current cursor: %w", err)
	}

	if err := e.integrations.UpdateSyncCursor(ctx, integration.UserID, e.providerName, cursor, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("persist cursor: %w", err)
	}

	res.Cursor = cursor

	e.logger.Info("full sync finished",
		zap.String("user_id", integration.UserID),
		zap.Int("candidates", len(ids)),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)

	return res, nil
}

// processMessages fetches, parses, and upserts each message in turn. A
// failure on one message is logged and recorded but never aborts the batch.
func (e *Engine) processMessages(ctx context.Context, prov Provider, userID string, messageIDs []string) *Result {
	res := &Result{}

	for _, id := range messageIDs {
		payloads, err := prov.MessagePayloads(ctx, id)
		if err != nil {
			res.Failed++
			res.MessageErrors = multierr.Append(res.MessageErrors, fmt.Errorf("message %s: %w", id, err))
			e.logger.Warn("message fetch failed",
				zap.String("user_id", userID),
				zap.String("message_id", id),
				zap.Error(err),
			)

			continue
		}

		for _, payload := range payloads {
			components, err := parseCalendar(payload)
			if err != nil {
				res.Failed++
				res.MessageErrors = multierr.Append(res.MessageErrors, fmt.Errorf("message %s: %w", id, err))
				e.logger.Warn("calendar parse failed",
					zap.String("user_id", userID),
					zap.String("message_id", id),
					zap.Error(err),
				)

				continue
			}

			for _, comp := range components {
				inserted, err := e.upsertComponent(ctx, userID, comp)
				switch {
				case err != nil:
					res.Failed++
					res.MessageErrors = multierr.Append(res.MessageErrors, fmt.Errorf("message %s: %w", id, err))
					e.logger.Warn("event upsert failed",
						zap.String("user_id", userID),
						zap.String("message_id", id),
						zap.String("uid", comp.UID),
						zap.Error(err),
					)
				case inserted:
					res.Inserted++
				default:
					res.Skipped++
				}
			}
		}
	}

	return res
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}

	return msg
}
