package tasks

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// processNotifyScanTask runs one scan over upcoming events and delivers the
// notifications that are due. The scanner owns the window logic; the task is
// only its cadence.
func (h *Handler) processNotifyScanTask(ctx context.Context, _ *asynq.Task) error {
	if h.notifier == nil {
		return fmt.Errorf("notify task requires a scanner")
	}

	if err := h.notifier.Scan(ctx); err != nil {
		return fmt.Errorf("notification scan failed: %w", err)
	}

	return nil
}
