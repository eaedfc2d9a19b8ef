package runner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/gmail"
	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/notifier"
	"github.com/dayframe/calsync/pkg/encryption"
	"github.com/dayframe/calsync/postgres"
	"github.com/dayframe/calsync/sqlite"
	"github.com/dayframe/calsync/syncer"
)

const dbFileName = "calsync.db"

// Services bundles the storage and domain layers both run modes share. The
// web runner adds the HTTP server and tickers on top; the worker wires the
// same services into task handlers.
type Services struct {
	Logger        *zap.Logger
	DB            *sql.DB
	Redis         *redis.Client
	Integrations  models.IntegrationRepository
	Events        models.EventRepository
	Subscriptions models.PushSubscriptionRepository
	Logs          models.NotificationLogRepository
	Credentials   *credentials.Store
	Sync          *syncer.Engine
	Notifier      *notifier.Scheduler
}

// NewServices constructs the shared service graph from the runtime config.
// With a Dsn it runs against PostgreSQL; otherwise it opens an embedded
// SQLite file under the data folder. A Redis URL switches the OAuth state
// cache from process memory to Redis so several instances can share the
// callback route.
func NewServices(cfg *Config, logger *zap.Logger) (*Services, error) {
	svcs := Services{Logger: logger}

	var err error

	if cfg.Dsn != "" {
		svcs.DB, err = postgres.Open(cfg.Dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		svcs.Integrations = postgres.NewIntegrationRepository(svcs.DB)
		svcs.Events = postgres.NewEventRepository(svcs.DB)
		svcs.Subscriptions = postgres.NewPushSubscriptionRepository(svcs.DB)
		svcs.Logs = postgres.NewNotificationLogRepository(svcs.DB)
	} else {
		if cfg.DataFolder == "" {
			return nil, fmt.Errorf("data folder is required")
		}

		if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
			return nil, err
		}

		svcs.DB, err = sqlite.Open(filepath.Join(cfg.DataFolder, dbFileName))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}

		svcs.Integrations = sqlite.NewIntegrationRepository(svcs.DB)
		svcs.Events = sqlite.NewEventRepository(svcs.DB)
		svcs.Subscriptions = sqlite.NewPushSubscriptionRepository(svcs.DB)
		svcs.Logs = sqlite.NewNotificationLogRepository(svcs.DB)
	}

	box, err := encryption.New(cfg.EncryptionKey)
	if err != nil {
		_ = svcs.DB.Close()

		return nil, fmt.Errorf("token encryption: %w", err)
	}

	oauthConf := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       []string{gmail.Scope},
		Endpoint:     google.Endpoint,
	}

	credOpts := []credentials.StoreOption{credentials.WithLogger(logger)}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = svcs.DB.Close()

			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		svcs.Redis = redis.NewClient(opt)
		credOpts = append(credOpts, credentials.WithStateCache(credentials.NewRedisStateCache(svcs.Redis)))
	}

	svcs.Credentials = credentials.NewStore(svcs.Integrations, box, oauthConf, credOpts...)

	providers := func(ctx context.Context, userID string) (syncer.Provider, error) {
		httpClient, err := svcs.Credentials.Client(ctx, userID)
		if err != nil {
			return nil, err
		}

		return gmail.NewClient(ctx, httpClient)
	}

	svcs.Sync = syncer.New(svcs.Integrations, svcs.Events, providers,
		syncer.WithLogger(logger),
	)

	sender := notifier.NewWebPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)

	svcs.Notifier = notifier.NewScheduler(svcs.Subscriptions, svcs.Events, svcs.Logs, sender,
		notifier.WithInterval(cfg.NotifyInterval),
		notifier.WithLogger(logger),
	)

	return &svcs, nil
}

// Close releases the database and Redis handles.
func (s *Services) Close() error {
	var errs error

	if s.DB != nil {
		errs = multierr.Append(errs, s.DB.Close())
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	return errs
}
