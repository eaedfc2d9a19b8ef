package redis

import (
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dayframe/calsync/redis/config"
)

// Server wraps the asynq worker pool that executes queued tasks.
type Server struct {
	server  *asynq.Server
	cfg     *config.RedisConfig
	mu      sync.RWMutex
	running bool
}

// NewServer creates a task server from the provided configuration. Queue
// weights come from cfg.QueuePriorities; with strict priority a pending
// critical task always runs before default or low work.
func NewServer(cfg *config.RedisConfig) (*Server, error) {
	srv := asynq.NewServer(clientOpt(cfg), asynq.Config{
		Concurrency:    cfg.Workers,
		RetryDelayFunc: retryDelay(cfg),
		Queues:         cfg.QueuePriorities,
		StrictPriority: true,
	})

	return &Server{
		server: srv,
		cfg:    cfg,
	}, nil
}

// retryDelay doubles the backoff on each attempt, capped at the configured
// retry interval. Attempts past cfg.MaxRetries retry immediately so asynq
// can archive the task.
func retryDelay(cfg *config.RedisConfig) func(int, error, *asynq.Task) time.Duration {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n >= cfg.MaxRetries {
			return -1 * time.Second
		}

		delay := time.Duration(1<<uint(n)) * time.Second
		if delay > cfg.RetryInterval {
			delay = cfg.RetryInterval
		}

		return delay
	}
}

// Start begins consuming tasks with the provided mux. It does not block;
// asynq runs the worker pool in background goroutines until Shutdown.
func (s *Server) Start(mux *asynq.ServeMux) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	s.running = true

	return nil
}

// Shutdown stops the worker pool and waits for in-flight tasks to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.server.Shutdown()
	s.running = false
}

// IsHealthy reports whether the worker pool is started and not shut down.
func (s *Server) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.running
}
