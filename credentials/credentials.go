// Package credentials manages OAuth grants for calendar providers: the
// authorization round trip, encrypted token storage, and transparent
// refresh of expiring access tokens.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/pkg/encryption"
)

const (
	// DefaultProvider is the provider name used when none is configured.
	DefaultProvider = "google"

	// stateTTL bounds how long an authorization round trip may take.
	stateTTL = 10 * time.Minute

	// refreshMargin is how close to expiry an access token may get before
	// it is refreshed instead of returned.
	refreshMargin = 2 * time.Minute
)

var (
	ErrIntegrationNotFound       = errors.New("integration not found")
	ErrInvalidAuthorizationState = errors.New("invalid or expired authorization state")
	ErrMissingRefreshToken       = errors.New("authorization response did not include a refresh token")
	ErrRefreshFailed             = errors.New("token refresh failed")
)

// Store owns the credential lifecycle for one provider. Tokens cross its
// boundary encrypted in both directions: the repository only ever sees
// ciphertext, callers only ever see plaintext.
type Store struct {
	repo     models.IntegrationRepository
	box      *encryption.Box
	conf     *oauth2.Config
	states   StateCache
	cache    *tokenCache
	provider string
	logger   *zap.Logger
}

// StoreOption configures optional Store behavior.
type StoreOption func(*Store)

// WithStateCache replaces the default in-memory state cache, typically with
// the Redis-backed one when multiple instances share the callback URL.
func WithStateCache(sc StateCache) StoreOption {
	return func(s *Store) { s.states = sc }
}

// WithProvider overrides the provider name stored on integration rows.
func WithProvider(name string) StoreOption {
	return func(s *Store) { s.provider = name }
}

// WithLogger attaches a logger. Without it the store stays silent.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore builds a credential store around an integration repository, an
// encryption box, and the provider's OAuth configuration.
func NewStore(repo models.IntegrationRepository, box *encryption.Box, conf *oauth2.Config, opts ...StoreOption) *Store {
	s := &Store{
		repo:     repo,
		box:      box,
		conf:     conf,
		states:   NewMemoryStateCache(),
		cache:    newTokenCache(),
		provider: DefaultProvider,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BeginAuthorization starts the OAuth flow for a user. It registers a
// single-use state token and returns the provider consent URL. Offline
// access and forced consent are requested so the exchange yields a refresh
// token even for accounts that granted access before.
func (s *Store) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	if err := s.states.Put(ctx, state, userID, stateTTL); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}

	return s.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// CompleteAuthorization finishes the OAuth flow. It consumes the state
// token, exchanges the authorization code, encrypts both tokens and upserts
// the integration row. It returns the user the state was issued to, since
// the provider redirect arrives without application auth.
//
// An exchange that yields no refresh token is rejected: without one the
// integration would stop working as soon as the first access token expires.
func (s *Store) CompleteAuthorization(ctx context.Context, state, code string) (string, error) {
	userID, err := s.states.Consume(ctx, state)
	if err != nil {
		return "", fmt.Errorf("consume state: %w", err)
	}

	if userID == "" {
		return "", ErrInvalidAuthorizationState
	}

	token, err := s.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	if token.RefreshToken == "" {
		return "", ErrMissingRefreshToken
	}

	encAccess, err := s.box.Encrypt(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}

	encRefresh, err := s.box.Encrypt(token.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	integration := &models.Integration{
		UserID:       userID,
		Provider:     s.provider,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		Expiry:       token.Expiry,
		Status:       models.SyncStatusIdle,
		LabelFilters: []string{models.DefaultLabelFilter},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Save(ctx, integration); err != nil {
		return "", fmt.Errorf("save integration: %w", err)
	}

	s.cache.Drop(userID)
	s.logger.Info("integration connected",
		zap.String("user_id", userID),
		zap.String("provider", s.provider),
	)

	return userID, nil
}

// AccessToken returns a valid plaintext access token for the user,
// refreshing and re-encrypting it first when it is expired or about to
// expire. Decrypted tokens are cached in memory for up to an hour so hot
// paths skip the repository and the cipher.
func (s *Store) AccessToken(ctx context.Context, userID string) (string, error) {
	if token, ok := s.cache.Get(userID); ok {
		return token, nil
	}

	integration, err := s.repo.Get(ctx, userID, s.provider)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", ErrIntegrationNotFound
		}

		return "", fmt.Errorf("load integration: %w", err)
	}

	access, err := s.box.Decrypt(integration.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}

	now := time.Now()
	if integration.Expiry.After(now.Add(refreshMargin)) {
		s.cache.Put(userID, access, cacheDeadline(now, integration.Expiry.Add(-refreshMargin)))
		return access, nil
	}

	if len(integration.RefreshToken) == 0 {
		return "", ErrMissingRefreshToken
	}

	refresh, err := s.box.Decrypt(integration.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	stale := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       now.Add(-time.Minute),
	}

	fresh, err := s.conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if err := s.persistRotated(ctx, userID, integration, fresh); err != nil {
		return "", err
	}

	s.cache.Put(userID, fresh.AccessToken, cacheDeadline(now, fresh.Expiry.Add(-refreshMargin)))
	s.logger.Debug("access token refreshed",
		zap.String("user_id", userID),
		zap.Time("expiry", fresh.Expiry),
	)

	return fresh.AccessToken, nil
}

// Client returns an HTTP client that authenticates with the user's current
// access token. The token is resolved once; callers doing long-running work
// should request a fresh client per pass.
func (s *Store) Client(ctx context.Context, userID string) (*http.Client, error) {
	token, err := s.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	return oauth2.NewClient(ctx, src), nil
}

// Disconnect removes the stored integration and forgets any cached token.
// Disconnecting a user who was never connected is not an error.
func (s *Store) Disconnect(ctx context.Context, userID string) error {
	s.cache.Drop(userID)

	if err := s.repo.Delete(ctx, userID, s.provider); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("delete integration: %w", err)
	}

	s.logger.Info("integration disconnected",
		zap.String("user_id", userID),
		zap.String("provider", s.provider),
	)

	return nil
}

// persistRotated re-encrypts and stores a refreshed token pair. Providers
// usually omit the refresh token on rotation, in which case the stored one
// is kept.
func (s *Store) persistRotated(ctx context.Context, userID string, integration *models.Integration, fresh *oauth2.Token) error {
	encAccess, err := s.box.Encrypt(fresh.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt rotated access token: %w", err)
	}

	encRefresh := integration.RefreshToken
	if fresh.RefreshToken != "" {
		encRefresh, err = s.box.Encrypt(fresh.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt rotated refresh token: %w", err)
		}
	}

	if err := s.repo.UpdateTokens(ctx, userID, s.provider, encAccess, encRefresh, fresh.Expiry); err != nil {
		return fmt.Errorf("persist rotated tokens: %w", err)
	}

	return nil
}
