// Package webrunner runs the standalone mode: the HTTP API plus the sync
// and notification loops in a single process.
package webrunner

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/runner"
	"github.com/dayframe/calsync/syncer"
	"github.com/dayframe/calsync/tlmt"
	"github.com/dayframe/calsync/web"
	"github.com/dayframe/calsync/web/auth"
	"github.com/dayframe/calsync/web/handlers"
)

type webrunner struct {
	srv  *web.Server
	svcs *runner.Services
	cfg  *runner.Config
}

func New(cfg *runner.Config) (runner.Runner, error) {
	logger, err := runner.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	svcs, err := runner.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.ParseStaticTokens(cfg.APITokens)
	if err != nil {
		_ = svcs.Close()

		return nil, err
	}

	group := handlers.NewHandlerGroup(handlers.Dependencies{
		Logger:        logger,
		DB:            svcs.DB,
		Credentials:   svcs.Credentials,
		Sync:          svcs.Sync,
		Push:          svcs.Notifier,
		Integrations:  svcs.Integrations,
		Subscriptions: svcs.Subscriptions,
		Logs:          svcs.Logs,
	})

	srv, err := web.New(web.Config{
		Addr:           cfg.Addr,
		Handlers:       group,
		Auth:           auth.NewMiddleware(tokens, logger),
		Logger:         logger,
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
	})
	if err != nil {
		_ = svcs.Close()

		return nil, err
	}

	ans := webrunner{
		srv:  srv,
		svcs: svcs,
		cfg:  cfg,
	}

	return &ans, nil
}

// splitOrigins turns the comma separated flag value into a clean list.
func splitOrigins(raw string) []string {
	var origins []string

	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return origins
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	w.svcs.Notifier.Start(ctx)
	defer w.svcs.Notifier.Stop()

	egroup.Go(func() error {
		return w.work(ctx)
	})

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	return w.svcs.Close()
}

// work drives periodic incremental syncs for every connected integration.
// A pass that is already running elsewhere is skipped, not retried.
func (w *webrunner) work(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.syncTick(ctx); err != nil {
				w.svcs.Logger.Error("sync tick", zap.Error(err))
			}
		}
	}
}

func (w *webrunner) syncTick(ctx context.Context) error {
	integrations, err := w.svcs.Integrations.ListByProvider(ctx, credentials.DefaultProvider)
	if err != nil {
		return err
	}

	for i := range integrations {
		select {
		case <-ctx.Done():
			return nil
		default:
			userID := integrations[i].UserID
			t0 := time.Now().UTC()

			result, err := w.svcs.Sync.IncrementalSync(ctx, userID)

			switch {
			case errors.Is(err, syncer.ErrSyncInProgress):
				continue
			case err != nil:
				params := map[string]any{
					"duration": time.Now().UTC().Sub(t0).String(),
					"error":    err.Error(),
				}

				_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("web_runner", params))

				w.svcs.Logger.Error("sync pass failed",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			default:
				params := map[string]any{
					"duration": time.Now().UTC().Sub(t0).String(),
					"inserted": result.Inserted,
					"skipped":  result.Skipped,
					"failed":   result.Failed,
				}

				_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("web_runner", params))

				w.svcs.Logger.Info("sync pass completed",
					zap.String("user_id", userID),
					zap.Int("inserted", result.Inserted),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed),
					zap.Bool("full", result.Full),
				)
			}
		}
	}

	return nil
}
