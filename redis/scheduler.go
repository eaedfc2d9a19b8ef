package redis

import (
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dayframe/calsync/redis/config"
)

// Scheduler wraps asynq scheduler functionality for periodic tasks. Entries
// are registered once at startup; asynq enqueues them on their cadence and
// the regular task server picks them up.
type Scheduler struct {
	scheduler *asynq.Scheduler
	cfg       *config.RedisConfig
	mu        sync.RWMutex
	entries   []string
}

// NewScheduler creates a new periodic task scheduler with the provided
// configuration
func NewScheduler(cfg *config.RedisConfig) (*Scheduler, error) {
	scheduler := asynq.NewScheduler(clientOpt(cfg), &asynq.SchedulerOpts{})

	return &Scheduler{
		scheduler: scheduler,
		cfg:       cfg,
	}, nil
}

// RegisterEvery schedules a task to be enqueued on a fixed interval
func (s *Scheduler) RegisterEvery(interval time.Duration, taskType string, payload []byte, opts ...asynq.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cronspec := fmt.Sprintf("@every %s", interval)

	entryID, err := s.scheduler.Register(cronspec, asynq.NewTask(taskType, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", taskType, err)
	}

	s.entries = append(s.entries, entryID)

	return nil
}

// Start begins enqueueing registered tasks on their schedule
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

// Shutdown stops the scheduler and waits for in-flight enqueues to finish
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduler.Shutdown()
}

// Entries returns the ids of registered schedule entries
func (s *Scheduler) Entries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.entries))
	copy(out, s.entries)

	return out
}
