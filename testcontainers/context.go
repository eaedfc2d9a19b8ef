// Package testcontainers spins up throwaway Redis and PostgreSQL containers
// for integration tests. A TestContext owns both containers plus ready-to-use
// clients and tears everything down when the test finishes.
//
// The PostgreSQL container comes provisioned with the application schema, so
// repository tests can write rows immediately:
//
//	func TestSomething(t *testing.T) {
//		testcontainers.WithTestContext(t, func(tc *testcontainers.TestContext) {
//			require.NoError(t, tc.Redis.Ping(tc.Context()).Err())
//			require.NoError(t, tc.DB.Ping(tc.Context()))
//		})
//	}
//
// Docker must be available. Tests built on this package should honor
// testing.Short so `go test -short` runs without it.
package testcontainers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dayframe/calsync/postgres"
)

// startupTimeout bounds container startup and schema provisioning.
const startupTimeout = 30 * time.Second

// TestContext bundles the containers, their clients, and the connection
// parameters tests need to build their own clients.
type TestContext struct {
	t *testing.T

	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanup    []func()

	redisContainer    *RedisContainer
	postgresContainer *PostgresContainer

	// Redis is connected to the Redis container.
	Redis *redis.Client
	// DB is a pgx pool connected to the provisioned PostgreSQL database.
	DB *pgxpool.Pool

	RedisConfig    *RedisConfig
	PostgresConfig *PostgresConfig
}

// NewTestContext starts both containers and fails the test if either does
// not come up. Callers must defer Cleanup; WithTestContext does both.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	tc := &TestContext{
		t:          t,
		ctx:        ctx,
		cancelFunc: cancel,
	}

	if err := tc.initRedis(); err != nil {
		tc.Cleanup()
		t.Fatalf("failed to initialize redis: %v", err)
	}

	if err := tc.initPostgres(); err != nil {
		tc.Cleanup()
		t.Fatalf("failed to initialize postgres: %v", err)
	}

	return tc
}

// WithTestContext runs fn against a fresh TestContext and cleans up
// afterwards, including when fn panics.
func WithTestContext(t *testing.T, fn func(*TestContext)) {
	t.Helper()

	tc := NewTestContext(t)
	defer tc.Cleanup()

	fn(tc)
}

// Context returns the context bounding this test's container operations.
func (tc *TestContext) Context() context.Context {
	return tc.ctx
}

// Cleanup releases clients and containers in reverse order of creation.
func (tc *TestContext) Cleanup() {
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}

	tc.cancelFunc()
}

func (tc *TestContext) addCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

func (tc *TestContext) initRedis() error {
	container, err := NewRedisContainer(tc.ctx)
	if err != nil {
		return fmt.Errorf("failed to create redis container: %w", err)
	}

	tc.redisContainer = container
	tc.addCleanup(func() {
		if err := container.Terminate(tc.ctx); err != nil {
			tc.t.Errorf("failed to terminate redis container: %v", err)
		}
	})

	tc.Redis = redis.NewClient(&redis.Options{
		Addr:     container.GetAddress(),
		Password: container.Password,
	})
	tc.addCleanup(func() {
		if err := tc.Redis.Close(); err != nil {
			tc.t.Errorf("failed to close redis client: %v", err)
		}
	})

	tc.RedisConfig = &RedisConfig{
		Host:     container.Host,
		Port:     container.Port,
		Password: container.Password,
	}

	return nil
}

func (tc *TestContext) initPostgres() error {
	container, err := NewPostgresContainer(tc.ctx)
	if err != nil {
		return fmt.Errorf("failed to create postgres container: %w", err)
	}

	tc.postgresContainer = container
	tc.addCleanup(func() {
		if err := container.Terminate(tc.ctx); err != nil {
			tc.t.Errorf("failed to terminate postgres container: %v", err)
		}
	})

	// Provision the application schema so repository tests start from a
	// ready database.
	boot, err := postgres.Open(container.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to provision schema: %w", err)
	}

	if err := boot.Close(); err != nil {
		return fmt.Errorf("failed to close provisioning connection: %w", err)
	}

	pool, err := pgxpool.New(tc.ctx, container.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	tc.DB = pool
	tc.addCleanup(func() {
		tc.DB.Close()
	})

	tc.PostgresConfig = &PostgresConfig{
		Host:     container.Host,
		Port:     container.Port,
		User:     container.User,
		Password: container.Password,
		Database: container.Database,
	}

	return nil
}
