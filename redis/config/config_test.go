package config

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayframe/calsync/testcontainers"
)

func TestNewRedisConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *RedisConfig
		wantErr bool
	}{
		{
			name: "defaults",
			want: &RedisConfig{
				Host:            "localhost",
				Port:            6379,
				DB:              0,
				Workers:         10,
				RetryInterval:   5 * time.Second,
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
				QueuePriorities: DefaultQueuePriorities,
			},
		},
		{
			name: "individual variables",
			env: map[string]string{
				"REDIS_HOST":           "redis.example.com",
				"REDIS_PORT":           "6380",
				"REDIS_PASSWORD":       "secret",
				"REDIS_DB":             "1",
				"REDIS_WORKERS":        "20",
				"REDIS_RETRY_INTERVAL": "10s",
				"REDIS_MAX_RETRIES":    "5",
				"REDIS_RETENTION_DAYS": "14",
				"REDIS_USE_TLS":        "true",
				"REDIS_CERT_FILE":      "/path/to/cert",
				"REDIS_KEY_FILE":       "/path/to/key",
				"REDIS_CA_FILE":        "/path/to/ca",
			},
			want: &RedisConfig{
				Host:            "redis.example.com",
				Port:            6380,
				Password:        "secret",
				DB:              1,
				Workers:         20,
				RetryInterval:   10 * time.Second,
				MaxRetries:      5,
				RetentionPeriod: 14 * 24 * time.Hour,
				UseTLS:          true,
				CertFile:        "/path/to/cert",
				KeyFile:         "/path/to/key",
				CAFile:          "/path/to/ca",
				QueuePriorities: DefaultQueuePriorities,
			},
		},
		{
			name: "connection url",
			env: map[string]string{
				"REDIS_URL": "redis://:sekret@queue.internal:6380/2",
			},
			want: &RedisConfig{
				Host:            "queue.internal",
				Port:            6380,
				Password:        "sekret",
				DB:              2,
				Workers:         10,
				RetryInterval:   5 * time.Second,
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
				QueuePriorities: DefaultQueuePriorities,
			},
		},
		{
			name: "connection url without port or db",
			env: map[string]string{
				"REDIS_URL": "redis://queue.internal",
			},
			want: &RedisConfig{
				Host:            "queue.internal",
				Port:            6379,
				DB:              0,
				Workers:         10,
				RetryInterval:   5 * time.Second,
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
				QueuePriorities: DefaultQueuePriorities,
			},
		},
		{
			name: "url takes precedence over individual variables",
			env: map[string]string{
				"REDIS_URL":  "redis://queue.internal:6380",
				"REDIS_PORT": "9999",
				"REDIS_DB":   "9",
			},
			want: &RedisConfig{
				Host:            "queue.internal",
				Port:            6380,
				DB:              0,
				Workers:         10,
				RetryInterval:   5 * time.Second,
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
				QueuePriorities: DefaultQueuePriorities,
			},
		},
		{
			name:    "invalid db in url",
			env:     map[string]string{"REDIS_URL": "redis://queue.internal/notanumber"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			env:     map[string]string{"REDIS_PORT": "invalid"},
			wantErr: true,
		},
		{
			name:    "port out of range",
			env:     map[string]string{"REDIS_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "invalid db",
			env:     map[string]string{"REDIS_DB": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid workers",
			env:     map[string]string{"REDIS_WORKERS": "invalid"},
			wantErr: true,
		},
		{
			name:    "workers out of range",
			env:     map[string]string{"REDIS_WORKERS": "0"},
			wantErr: true,
		},
		{
			name:    "invalid retry interval",
			env:     map[string]string{"REDIS_RETRY_INTERVAL": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid max retries",
			env:     map[string]string{"REDIS_MAX_RETRIES": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid retention days",
			env:     map[string]string{"REDIS_RETENTION_DAYS": "invalid"},
			wantErr: true,
		},
	}

	knownVars := []string{
		"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"REDIS_WORKERS", "REDIS_RETRY_INTERVAL", "REDIS_MAX_RETRIES",
		"REDIS_RETENTION_DAYS", "REDIS_USE_TLS", "REDIS_CERT_FILE",
		"REDIS_KEY_FILE", "REDIS_CA_FILE",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// TLS file checks are skipped in test mode.
			t.Setenv("GO_TEST", "1")

			// Isolate from whatever the host environment carries.
			for _, k := range knownVars {
				t.Setenv(k, "")
			}

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := NewRedisConfig()
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetRedisAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RedisConfig
		want string
	}{
		{
			name: "hostname",
			cfg:  &RedisConfig{Host: "localhost", Port: 6379},
			want: "localhost:6379",
		},
		{
			name: "fqdn with custom port",
			cfg:  &RedisConfig{Host: "redis.example.com", Port: 6380},
			want: "redis.example.com:6380",
		},
		{
			name: "ipv4",
			cfg:  &RedisConfig{Host: "127.0.0.1", Port: 6379},
			want: "127.0.0.1:6379",
		},
		{
			name: "ipv6 gets brackets",
			cfg:  &RedisConfig{Host: "::1", Port: 6379},
			want: "[::1]:6379",
		},
		{
			name: "bracketed ipv6 stays as is",
			cfg:  &RedisConfig{Host: "[::1]", Port: 6379},
			want: "[::1]:6379",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetRedisAddr())
		})
	}
}

func TestDefaultQueuePriorities(t *testing.T) {
	assert.Equal(t, map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}, DefaultQueuePriorities)
}

func TestConfigConnects(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testcontainers.WithTestContext(t, func(tc *testcontainers.TestContext) {
		cfg := &RedisConfig{
			Host:     tc.RedisConfig.Host,
			Port:     tc.RedisConfig.Port,
			Password: tc.RedisConfig.Password,
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		defer client.Close()

		pong, err := client.Ping(context.Background()).Result()
		require.NoError(t, err)
		assert.Equal(t, "PONG", pong)
	})
}
