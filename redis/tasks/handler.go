// Package tasks provides Redis task handling functionality
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/syncer"
)

// TaskHandler handles processing of Redis tasks
type TaskHandler interface {
	ProcessTask(ctx context.Context, task *asynq.Task) error
}

// SyncEngine runs sync passes. *syncer.Engine satisfies it.
type SyncEngine interface {
	FullSync(ctx context.Context, userID string) (*syncer.Result, error)
	IncrementalSync(ctx context.Context, userID string) (*syncer.Result, error)
}

// NotifyScanner runs one notification scan. *notifier.Scheduler satisfies it.
type NotifyScanner interface {
	Scan(ctx context.Context) error
}

// Enqueuer enqueues follow-up tasks. *redis.Client satisfies it.
type Enqueuer interface {
	EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error
}

// Handler implements TaskHandler interface
type Handler struct {
	maxRetries    int
	retryInterval time.Duration
	taskTimeout   time.Duration
	provider      string
	logger        *zap.Logger

	sync         SyncEngine
	notifier     NotifyScanner
	integrations models.IntegrationRepository
	enqueuer     Enqueuer
}

// HandlerOption is a function that configures a Handler
type HandlerOption func(*Handler)

// WithMaxRetries sets the maximum number of retries for a task
func WithMaxRetries(retries int) HandlerOption {
	return func(h *Handler) {
		h.maxRetries = retries
	}
}

// WithRetryInterval sets the retry interval for failed tasks
func WithRetryInterval(interval time.Duration) HandlerOption {
	return func(h *Handler) {
		h.retryInterval = interval
	}
}

// WithTaskTimeout sets the timeout for task processing
func WithTaskTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.taskTimeout = timeout
	}
}

// WithProvider sets the provider whose integrations the fan-out task lists
func WithProvider(name string) HandlerOption {
	return func(h *Handler) {
		h.provider = name
	}
}

// WithLogger sets the logger used during task processing
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithSyncEngine sets the engine that per-user sync tasks run
func WithSyncEngine(engine SyncEngine) HandlerOption {
	return func(h *Handler) {
		h.sync = engine
	}
}

// WithNotifier sets the scanner that notification tasks run
func WithNotifier(scanner NotifyScanner) HandlerOption {
	return func(h *Handler) {
		h.notifier = scanner
	}
}

// WithIntegrations sets the repository the fan-out task lists users from
func WithIntegrations(repo models.IntegrationRepository) HandlerOption {
	return func(h *Handler) {
		h.integrations = repo
	}
}

// WithEnqueuer sets the client used to enqueue per-user sync tasks
func WithEnqueuer(enqueuer Enqueuer) HandlerOption {
	return func(h *Handler) {
		h.enqueuer = enqueuer
	}
}

// NewHandler creates a new task handler with the provided options
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		maxRetries:    3,
		retryInterval: 5 * time.Second,
		taskTimeout:   2 * time.Minute,
		provider:      credentials.DefaultProvider,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ProcessTask processes a task based on its type
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	switch task.Type() {
	case TypeSyncDue:
		return h.processSyncDueTask(ctx, task)
	case TypeSyncUser:
		return h.processSyncUserTask(ctx, task)
	case TypeNotifyScan:
		return h.processNotifyScanTask(ctx, task)
	case TypeHealthCheck:
		return nil // Health check task always succeeds
	case TypeConnectionTest:
		return nil // Connection test task always succeeds
	default:
		return fmt.Errorf("unknown task type: %s", task.Type())
	}
}
