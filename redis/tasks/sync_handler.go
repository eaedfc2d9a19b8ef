package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/syncer"
)

// syncTaskUniqueWindow keeps duplicate per-user sync tasks out of the queue
// while an earlier one is still pending.
const syncTaskUniqueWindow = 5 * time.Minute

// CreateSyncTask creates a new per-user sync task with the given payload
func CreateSyncTask(payload *SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync payload: %w", err)
	}
	return asynq.NewTask(TypeSyncUser, data), nil
}

// processSyncDueTask fans out one sync task per connected integration. The
// per-user tasks carry the actual work so a slow mailbox cannot stall the
// rest of the fleet.
func (h *Handler) processSyncDueTask(ctx context.Context, _ *asynq.Task) error {
	if h.integrations == nil || h.enqueuer == nil {
		return fmt.Errorf("sync fan-out requires integrations and an enqueuer")
	}

	integrations, err := h.integrations.ListByProvider(ctx, h.provider)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}

	var enqueued int

	for i := range integrations {
		payload, err := json.Marshal(SyncPayload{UserID: integrations[i].UserID})
		if err != nil {
			return fmt.Errorf("failed to marshal sync payload: %w", err)
		}

		err = h.enqueuer.EnqueueTask(ctx, TypeSyncUser, payload,
			asynq.Queue(PriorityDefault),
			asynq.MaxRetry(h.maxRetries),
			asynq.Unique(syncTaskUniqueWindow),
		)

		switch {
		case errors.Is(err, asynq.ErrDuplicateTask):
			// An identical task is already queued; nothing to do.
		case err != nil:
			return fmt.Errorf("failed to enqueue sync for %s: %w", integrations[i].UserID, err)
		default:
			enqueued++
		}
	}

	h.logger.Info("sync fan-out completed",
		zap.Int("integrations", len(integrations)),
		zap.Int("enqueued", enqueued),
	)

	return nil
}

// processSyncUserTask runs one sync pass for one user.
func (h *Handler) processSyncUserTask(ctx context.Context, task *asynq.Task) error {
	if h.sync == nil {
		return fmt.Errorf("sync task requires a sync engine")
	}

	var payload SyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal sync payload: %w", err)
	}

	if payload.UserID == "" {
		return fmt.Errorf("no user id provided")
	}

	run := h.sync.IncrementalSync
	if payload.Full {
		run = h.sync.FullSync
	}

	result, err := run(ctx, payload.UserID)

	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		// Another pass holds the lock; the next fan-out catches up.
		h.logger.Debug("sync already in progress", zap.String("user_id", payload.UserID))

		return nil
	case errors.Is(err, models.ErrNotFound):
		// Disconnected between fan-out and processing. Not worth a retry.
		return nil
	case err != nil:
		return fmt.Errorf("sync for %s failed: %w", payload.UserID, err)
	}

	h.logger.Info("sync task completed",
		zap.String("user_id", payload.UserID),
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("full", result.Full),
	)

	return nil
}
