// Package auth resolves the calling user from a bearer token and carries
// the user id through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is used to store user information in the request context
type ContextKey string

const (
	// UserIDKey is the context key for storing the user ID
	UserIDKey ContextKey = "user_id"
	// AuthHeaderName is the name of the authentication header
	AuthHeaderName = "Authorization"
)

// ErrUnknownToken is returned by resolvers for tokens they do not know.
var ErrUnknownToken = errors.New("unknown token")

// TokenResolver maps a bearer token to the user it was issued to.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StaticTokens resolves tokens against a fixed table, typically parsed from
// the API_TOKENS environment variable. It stands in for a full identity
// provider, which this service does not own.
type StaticTokens map[string]string

// ParseStaticTokens reads a comma-separated "token:user" list.
func ParseStaticTokens(raw string) (StaticTokens, error) {
	tokens := make(StaticTokens)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		token, userID, ok := strings.Cut(pair, ":")
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("malformed token entry %q", pair)
		}

		tokens[token] = userID
	}

	return tokens, nil
}

func (t StaticTokens) Resolve(_ context.Context, token string) (string, error) {
	userID, ok := t[token]
	if !ok {
		return "", ErrUnknownToken
	}

	return userID, nil
}

// Middleware handles token authentication and adds user info to the request context
type Middleware struct {
	resolver TokenResolver
	logger   *zap.Logger
}

// NewMiddleware creates a new authentication Middleware
func NewMiddleware(resolver TokenResolver, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Middleware{resolver: resolver, logger: logger}
}

// Authenticate is the middleware function for authentication
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get(AuthHeaderName)
		if authHeader == "" {
			http.Error(w, "Unauthorized: missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token from Bearer format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized: invalid authorization format", http.StatusUnauthorized)
			return
		}

		userID, err := m.resolver.Resolve(r.Context(), parts[1])
		if err != nil || userID == "" {
			m.logger.Debug("token rejected",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		// Add user ID to request context
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return "", errors.New("user not authenticated")
	}

	return userID, nil
}

// WithUserID returns a context carrying the user id, the way Authenticate
// sets it. Used by internal dispatch and tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
