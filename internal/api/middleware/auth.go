// Package middleware provides the HTTP middleware stack for the
// TrailBlaze API: correlation IDs, panic recovery, API key
// authentication, rate limiting, request logging, and CORS.
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

	"golang.org/x/crypto/bcrypt"

	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// publicEndpoints lists paths that bypass authentication, such as
// health probes. Business endpoints must never be registered here.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint marks a path as reachable without an API key.
// Called during route setup only.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// AuthError wraps an authentication failure with its sentinel type.
type AuthError struct {
	Type    error
	Message string
}

var (
	// ErrMissingAPIKey is returned when no API key is present in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey covers both malformed and unknown keys. The single
	// generic error prevents key enumeration.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned when the key's expiry has passed.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned for soft-deleted keys.
	ErrAPIKeyInactive = errors.New("API key inactive")
)

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Type
}

// extractAPIKey pulls the API key from the X-Api-Key header, falling
// back to Authorization: Bearer. Keys containing newlines are rejected
// outright to prevent header injection.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(auth, "Bearer "))
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// performDummyBcryptComparison keeps rejection timing constant when the
// key fails before reaching the store's bcrypt comparison.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest validates an API key against the store. Format
// failures and unknown keys collapse into the same generic error.
func authenticateRequest(
	ctx context.Context,
	store storage.KeyStore,
	apiKey string,
	logger *slog.Logger,
) (*storage.APIKey, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Warn("authentication failed: invalid key format",
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		performDummyBcryptComparison()

		logger.Warn("authentication failed: key not found",
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_not_found"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	if !foundKey.Active {
		logger.Warn("authentication failed: key inactive",
			slog.String("key_id", foundKey.ID),
			slog.String("owner", foundKey.Owner),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_inactive"),
		)

		return nil, &AuthError{Type: ErrAPIKeyInactive, Message: "API key is inactive"}
	}

	if foundKey.ExpiresAt != nil && time.Now().After(*foundKey.ExpiresAt) {
		logger.Warn("authentication failed: key expired",
			slog.String("key_id", foundKey.ID),
			slog.String("owner", foundKey.Owner),
			slog.Time("expired_at", *foundKey.ExpiresAt),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_expired"),
		)

		return nil, &AuthError{Type: ErrAPIKeyExpired, Message: "API key has expired"}
	}

	return foundKey, nil
}

// Authenticate creates the API key authentication middleware. Public
// endpoints registered via RegisterPublicEndpoint pass straight through;
// everything else needs a valid, active, unexpired key. On success the
// request context carries the consumer's identity.
func Authenticate(store storage.KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			authenticated, err := authenticateRequest(r.Context(), store, apiKey, logger)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			consumer := ConsumerContext{
				Owner:    authenticated.Owner,
				Name:     authenticated.Name,
				KeyID:    authenticated.ID,
				AuthTime: time.Now(),
			}
			ctx := SetConsumerContext(r.Context(), consumer)

			logger.Info("API key authenticated",
				slog.String("owner", consumer.Owner),
				slog.String("key_id", consumer.KeyID),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError maps an authentication failure to its status code and
// writes an RFC 7807 response.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized

	var authErr *AuthError
	if errors.As(err, &authErr) && errors.Is(authErr.Type, ErrAPIKeyInactive) {
		statusCode = http.StatusForbidden
	}

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	if writeErr := writeRFC7807Error(w, r, statusCode, err.Error(), correlationID); writeErr != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", writeErr),
		)
	}
}

// writeRFC7807Error writes a problem+json response without importing the
// api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]any{
		"type":          fmt.Sprintf("https://trailblaze.io/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
