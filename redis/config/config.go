// Package config loads the Redis connection settings for the worker mode
// from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and queue tuning parameters.
type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	RetentionPeriod time.Duration
	UseTLS          bool
	CertFile        string
	KeyFile         string
	CAFile          string
	QueuePriorities map[string]int
}

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultDB            = 0
	defaultWorkers       = 10
	defaultRetryInterval = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetentionDays = 7

	minRetryInterval = time.Second
	maxRetryInterval = time.Hour
)

// DefaultQueuePriorities weights the task queues. With strict priority
// enabled on the server, pending critical work always runs first.
var DefaultQueuePriorities = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

// NewRedisConfig reads the Redis settings from the environment. REDIS_URL
// takes precedence for the connection coordinates; the tuning knobs always
// come from their individual variables.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:            envOrDefault("REDIS_HOST", defaultHost),
		Password:        os.Getenv("REDIS_PASSWORD"),
		UseTLS:          envBool("REDIS_USE_TLS"),
		CertFile:        os.Getenv("REDIS_CERT_FILE"),
		KeyFile:         os.Getenv("REDIS_KEY_FILE"),
		CAFile:          os.Getenv("REDIS_CA_FILE"),
		QueuePriorities: make(map[string]int, len(DefaultQueuePriorities)),
	}

	for queue, priority := range DefaultQueuePriorities {
		cfg.QueuePriorities[queue] = priority
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if err := applyURL(cfg, redisURL); err != nil {
			return nil, err
		}
	} else {
		port, err := boundedInt(envOrDefault("REDIS_PORT", strconv.Itoa(defaultPort)), "port", 1, 65535)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}

		db, err := boundedInt(envOrDefault("REDIS_DB", strconv.Itoa(defaultDB)), "DB", 0, 15)
		if err != nil {
			return nil, fmt.Errorf("invalid DB: %w", err)
		}

		cfg.Port = port
		cfg.DB = db
	}

	workers, err := boundedInt(envOrDefault("REDIS_WORKERS", strconv.Itoa(defaultWorkers)), "workers", 1, 100)
	if err != nil {
		return nil, fmt.Errorf("invalid workers: %w", err)
	}

	cfg.Workers = workers

	interval, err := retryInterval(envOrDefault("REDIS_RETRY_INTERVAL", defaultRetryInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid retry interval: %w", err)
	}

	cfg.RetryInterval = interval

	retries, err := boundedInt(envOrDefault("REDIS_MAX_RETRIES", strconv.Itoa(defaultMaxRetries)), "max retries", 1, 10)
	if err != nil {
		return nil, fmt.Errorf("invalid max retries: %w", err)
	}

	cfg.MaxRetries = retries

	days, err := boundedInt(envOrDefault("REDIS_RETENTION_DAYS", strconv.Itoa(defaultRetentionDays)), "retention days", 1, 365)
	if err != nil {
		return nil, fmt.Errorf("invalid retention days: %w", err)
	}

	cfg.RetentionPeriod = time.Duration(days) * 24 * time.Hour

	// TLS file checks need the files present, which test environments
	// usually lack.
	if cfg.UseTLS && !isTestMode() {
		if err := validateTLS(cfg); err != nil {
			return nil, fmt.Errorf("invalid TLS configuration: %w", err)
		}
	}

	return cfg, nil
}

// GetRedisAddr returns the host:port address, bracketing bare IPv6 hosts.
func (c *RedisConfig) GetRedisAddr() string {
	host := c.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}

	return fmt.Sprintf("%s:%d", host, c.Port)
}

// applyURL fills the connection coordinates from a redis:// URL. Missing
// parts keep their defaults.
func applyURL(cfg *RedisConfig, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	if host := parsed.Hostname(); host != "" {
		cfg.Host = host
	}

	cfg.Port = defaultPort

	if port := parsed.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port in Redis URL: %w", err)
		}

		cfg.Port = p
	}

	if password, ok := parsed.User.Password(); ok {
		cfg.Password = password
	}

	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return fmt.Errorf("invalid database number in Redis URL: %w", err)
		}

		cfg.DB = db
	}

	return nil
}

func boundedInt(value, what string, min, max int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", what, err)
	}

	if n < min || n > max {
		return 0, fmt.Errorf("%s must be between %d and %d", what, min, max)
	}

	return n, nil
}

func retryInterval(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %w", err)
	}

	if d < minRetryInterval || d > maxRetryInterval {
		return 0, fmt.Errorf("retry interval must be between %v and %v", minRetryInterval, maxRetryInterval)
	}

	return d, nil
}

func validateTLS(cfg *RedisConfig) error {
	if cfg.CertFile == "" {
		return fmt.Errorf("TLS certificate file is required when TLS is enabled")
	}

	if cfg.KeyFile == "" {
		return fmt.Errorf("TLS key file is required when TLS is enabled")
	}

	files := []string{cfg.CertFile, cfg.KeyFile}
	if cfg.CAFile != "" {
		files = append(files, cfg.CAFile)
	}

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist: %s", path)
			}

			return fmt.Errorf("cannot access file: %s: %w", path, err)
		}
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func envBool(key string) bool {
	value := strings.ToLower(os.Getenv(key))

	return value == "true" || value == "1" || value == "yes"
}

func isTestMode() bool {
	return strings.HasSuffix(os.Args[0], ".test") || os.Getenv("GO_TEST") == "1"
}
