// Package redisrunner provides the Redis-backed worker mode: sync and
// notification work arrives as asynq tasks instead of in-process tickers.
package redisrunner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/redis"
	"github.com/dayframe/calsync/redis/config"
	"github.com/dayframe/calsync/redis/tasks"
	"github.com/dayframe/calsync/runner"
)

// healthCheckInterval is how often the runner verifies its Redis handles.
const healthCheckInterval = 30 * time.Second

// RedisRunner implements the runner.Runner interface for Redis-backed task
// processing. A periodic scheduler enqueues the recurring fan-out and scan
// tasks; the embedded server consumes them.
type RedisRunner struct {
	cfg       *config.RedisConfig
	svcs      *runner.Services
	server    *redis.Server
	client    *redis.Client
	scheduler *redis.Scheduler
	mux       *asynq.ServeMux
	wg        sync.WaitGroup
	done      chan struct{}
	handler   *tasks.Handler
}

// New creates a new RedisRunner from the provided configuration.
func New(cfg *runner.Config) (*RedisRunner, error) {
	logger, err := runner.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	// The config package reads REDIS_URL; surface the flag value to it.
	if cfg.RedisURL != "" {
		if err := os.Setenv("REDIS_URL", cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("failed to set Redis URL: %w", err)
		}
	}

	redisCfg, err := config.NewRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis config: %w", err)
	}

	redisCfg.Workers = cfg.Concurrency

	svcs, err := runner.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	// The worker often starts before Redis accepts connections, so retry
	// the initial connection with backoff before giving up.
	var client *redis.Client

	err = redis.RetryWithBackoff(func() error {
		var cerr error
		client, cerr = redis.NewClient(redisCfg)

		return cerr
	}, redisCfg.MaxRetries, redisCfg.RetryInterval)
	if err != nil {
		_ = svcs.Close()

		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	server, err := redis.NewServer(redisCfg)
	if err != nil {
		_ = client.Close()
		_ = svcs.Close()

		return nil, fmt.Errorf("failed to create Redis server: %w", err)
	}

	scheduler, err := redis.NewScheduler(redisCfg)
	if err != nil {
		_ = client.Close()
		_ = svcs.Close()

		return nil, fmt.Errorf("failed to create Redis scheduler: %w", err)
	}

	handler := tasks.NewHandler(
		tasks.WithMaxRetries(redisCfg.MaxRetries),
		tasks.WithRetryInterval(redisCfg.RetryInterval),
		tasks.WithLogger(logger),
		tasks.WithSyncEngine(svcs.Sync),
		tasks.WithNotifier(svcs.Notifier),
		tasks.WithIntegrations(svcs.Integrations),
		tasks.WithEnqueuer(client),
	)

	mux := asynq.NewServeMux()
	for _, taskType := range []string{
		tasks.TypeSyncDue,
		tasks.TypeSyncUser,
		tasks.TypeNotifyScan,
		tasks.TypeHealthCheck,
		tasks.TypeConnectionTest,
	} {
		mux.HandleFunc(taskType, handler.ProcessTask)
	}

	ans := RedisRunner{
		cfg:       redisCfg,
		svcs:      svcs,
		server:    server,
		client:    client,
		scheduler: scheduler,
		mux:       mux,
		done:      make(chan struct{}),
		handler:   handler,
	}

	if err := ans.registerSchedules(cfg); err != nil {
		_ = client.Close()
		_ = svcs.Close()

		return nil, err
	}

	return &ans, nil
}

// registerSchedules wires the recurring tasks: the sync fan-out on the sync
// interval and the notification scan on the notify interval. The scan runs
// on the critical queue since its delivery window is narrow.
func (r *RedisRunner) registerSchedules(cfg *runner.Config) error {
	err := r.scheduler.RegisterEvery(cfg.SyncInterval, tasks.TypeSyncDue, nil,
		asynq.Queue(tasks.PriorityDefault),
	)
	if err != nil {
		return err
	}

	return r.scheduler.RegisterEvery(cfg.NotifyInterval, tasks.TypeNotifyScan, nil,
		asynq.Queue(tasks.PriorityCritical),
	)
}

// Run starts the Redis runner and begins processing tasks.
func (r *RedisRunner) Run(ctx context.Context) error {
	r.svcs.Logger.Info("starting worker",
		zap.Int("workers", r.cfg.Workers),
		zap.String("redis", r.cfg.GetRedisAddr()),
	)

	if err := r.scheduler.Start(); err != nil {
		return err
	}

	if err := r.server.Start(r.mux); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.monitorHealth(ctx)

	<-ctx.Done()

	return nil
}

// Close gracefully shuts down the Redis runner.
func (r *RedisRunner) Close(ctx context.Context) error {
	r.svcs.Logger.Info("shutting down worker")

	close(r.done)
	r.wg.Wait()

	r.scheduler.Shutdown()
	r.server.Shutdown()

	var errs error

	if err := r.client.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	errs = multierr.Append(errs, r.svcs.Close())

	r.svcs.Logger.Info("worker shutdown complete")

	return errs
}

// monitorHealth periodically checks the health of Redis connections.
func (r *RedisRunner) monitorHealth(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if !r.client.IsHealthy(ctx) {
				r.svcs.Logger.Warn("redis client connection is not healthy")
			}

			if !r.server.IsHealthy() {
				r.svcs.Logger.Warn("task server is not running")
			}
		}
	}
}

// EnqueueTask enqueues a new task for processing.
func (r *RedisRunner) EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error {
	return r.client.EnqueueTask(ctx, taskType, payload, opts...)
}
