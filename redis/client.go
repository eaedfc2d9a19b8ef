// Package redis wraps the asynq producer, consumer, and scheduler used by
// the worker mode behind small connection-checked types.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dayframe/calsync/redis/config"
	"github.com/dayframe/calsync/redis/tasks"
)

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	poolSize     = 10
)

// clientOpt builds the asynq connection options shared by the client, the
// server, and the scheduler.
func clientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		PoolSize:     poolSize,
	}
}

// Client enqueues tasks onto the Redis-backed queues.
type Client struct {
	client *asynq.Client
	cfg    *config.RedisConfig
	mu     sync.RWMutex
}

// NewClient connects to Redis and verifies the connection by enqueueing a
// probe task. It fails fast when Redis is unreachable.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := asynq.NewClient(clientOpt(cfg))

	if err := testConnection(client); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client: client,
		cfg:    cfg,
	}, nil
}

// EnqueueTask enqueues a task of the given type. Queue, retry, uniqueness,
// and scheduling behavior are controlled through asynq options; duplicate
// unique tasks surface as asynq.ErrDuplicateTask in the wrapped error.
func (c *Client) EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	task := asynq.NewTask(taskType, payload)

	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}

// IsHealthy reports whether Redis currently accepts writes from this client.
func (c *Client) IsHealthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := c.client.EnqueueContext(ctx, asynq.NewTask(tasks.TypeHealthCheck, nil))

	return err == nil
}

// RetryWithBackoff runs operation until it succeeds, doubling the wait
// between attempts. It returns the last error once maxRetries attempts have
// failed.
func RetryWithBackoff(operation func() error, maxRetries int, initialInterval time.Duration) error {
	var err error

	interval := initialInterval

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}

		if i == maxRetries-1 {
			break
		}

		log.Printf("attempt %d failed: %v, retrying in %v", i+1, err, interval)
		time.Sleep(interval)
		interval *= 2
	}

	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// testConnection proves the connection works by writing a probe task. The
// worker drops probe tasks on sight.
func testConnection(client *asynq.Client) error {
	task := asynq.NewTask(tasks.TypeConnectionTest, nil)

	if _, err := client.EnqueueContext(context.Background(), task); err != nil {
		return fmt.Errorf("failed to reach Redis: %w", err)
	}

	return nil
}
