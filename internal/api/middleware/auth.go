// Package middleware provides HTTP middleware components for the governance
// events API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aigrc/govevents/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// AuthError represents an authentication error with a specific type.
type AuthError struct {
	Type    error
	Message string
}

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no bearer token is provided.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for invalid format or a key not found.
	// Generic error prevents enumeration attacks.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyInactive is returned when the key has been revoked.
	ErrAPIKeyInactive = errors.New("API key inactive")
)

// publicEndpoints holds paths that bypass authentication and rate limiting,
// e.g. the health check used by orchestrator liveness/readiness probes.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication
// and rate limiting. Intended for health checks only — never register a
// business-logic endpoint this way.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/v1/health")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// IsPublicEndpoint reports whether path bypasses authentication and rate
// limiting.
func IsPublicEndpoint(path string) bool {
	return publicEndpoints[path]
}

// extractAPIKey extracts the bearer token from request headers. It checks
// X-Api-Key first (primary), then falls back to Authorization: Bearer
// (secondary).
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return validateAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")

		return validateAPIKey(token)
	}

	return "", false
}

// validateAPIKey rejects header-injection attempts and empty keys.
func validateAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap enables errors.Is()/errors.As() against the wrapped error type.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// performDummyBcryptComparison keeps the unauthenticated path's timing
// indistinguishable from the authenticated one.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest resolves a bearer token to its owning APIKey.
func authenticateRequest(ctx context.Context, store storage.APIKeyStore, apiKey string) (*storage.APIKey, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "invalid or missing API key"}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		performDummyBcryptComparison()

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "invalid or missing API key"}
	}

	if !foundKey.Active {
		return nil, &AuthError{Type: ErrAPIKeyInactive, Message: "API key has been revoked"}
	}

	return foundKey, nil
}

// AuthenticateOrg creates authentication middleware resolving a bearer token
// to {orgId, principalType} (§4.C11) and enriching the request context with
// an OrgContext. Absent or invalid tokens are rejected with 401; a revoked
// key is rejected with 403.
func AuthenticateOrg(store storage.APIKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingAPIKey, Message: "missing API key"})

				return
			}

			authenticated, err := authenticateRequest(r.Context(), store, apiKey)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			orgCtx := OrgContext{
				OrgID:         authenticated.OrgID,
				PrincipalType: authenticated.PrincipalType,
				KeyID:         authenticated.ID,
				AuthTime:      time.Now(),
			}
			ctx := SetOrgContext(r.Context(), orgCtx)

			logger.Info("API key authenticated",
				slog.String("org_id", orgCtx.OrgID),
				slog.String("principal_type", orgCtx.PrincipalType),
				slog.String("key_id", orgCtx.KeyID),
				slog.String("key", storage.MaskKey(authenticated.Key)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError maps an authentication failure to an HTTP status and the
// {error:{code,message}} envelope.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized
	code := "AUTH_INVALID_KEY"

	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch {
		case errors.Is(authErr.Type, ErrMissingAPIKey):
			code = "AUTH_MISSING_KEY"
		case errors.Is(authErr.Type, ErrAPIKeyInactive):
			statusCode = http.StatusForbidden
			code = "AUTH_KEY_REVOKED"
		}
	}

	logger.Warn("authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	if encodeErr := writeAuthErrorBody(w, statusCode, code, err.Error()); encodeErr != nil {
		logger.Error("failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", encodeErr),
		)
	}
}

// writeAuthErrorBody writes the {error:{code,message}} envelope without
// importing the api package (which depends on this one for OrgContext).
func writeAuthErrorBody(w http.ResponseWriter, statusCode int, code, message string) error {
	body := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(body)
}
