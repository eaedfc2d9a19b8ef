// Package web serves the HTTP API: provider authorization, on-demand sync,
// push subscription management, and delivery history.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/web/auth"
	"github.com/dayframe/calsync/web/handlers"
	"github.com/dayframe/calsync/web/middleware"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Config carries everything the server needs to route requests.
type Config struct {
	Addr     string
	Handlers *handlers.HandlerGroup
	Auth     *auth.Middleware
	Logger   *zap.Logger

	// AllowedOrigins lists the browser origins that may send credentialed
	// requests. Empty means any origin, without credentials.
	AllowedOrigins []string
}

// Server is the HTTP front of the service. It owns no business logic; every
// route delegates to a handler group.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("server address is required")
	}

	if cfg.Handlers == nil {
		return nil, fmt.Errorf("handler group is required")
	}

	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	root := middleware.Chain(
		newRouter(cfg.Handlers, cfg.Auth),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.SecurityHeaders,
		middleware.RequestLogger(logger),
	)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      root,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return &Server{srv: srv, logger: logger}, nil
}

// newRouter wires the handler groups onto their routes. The provider
// callback stays outside the authenticated subrouter: it is reached by a
// browser redirect that carries no bearer token, only the single-use state.
func newRouter(hg *handlers.HandlerGroup, authMW *auth.Middleware) *mux.Router {
	provider := hg.Integration.Deps.Provider

	r := mux.NewRouter()
	r.HandleFunc("/health", hg.Web.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/integrations/"+provider+"/callback", hg.Integration.Callback).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(authMW.Authenticate)
	authed.HandleFunc("/integrations/"+provider+"/connect", hg.Integration.Connect).Methods(http.MethodGet)
	authed.HandleFunc("/integrations/"+provider+"/status", hg.Integration.Status).Methods(http.MethodGet)
	authed.HandleFunc("/integrations/"+provider, hg.Integration.Disconnect).Methods(http.MethodDelete)
	authed.HandleFunc("/sync", hg.Sync.Run).Methods(http.MethodPost)
	authed.HandleFunc("/push/subscriptions", hg.Push.Subscribe).Methods(http.MethodPost)
	authed.HandleFunc("/push/subscriptions", hg.Push.Unsubscribe).Methods(http.MethodDelete)
	authed.HandleFunc("/push/test", hg.Push.Test).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/log", hg.Push.NotificationLog).Methods(http.MethodGet)

	return r
}

// Start serves until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	<-errCh
	s.logger.Info("http server stopped")

	return nil
}
