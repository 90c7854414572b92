package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trailblaze-io/trailblaze/internal/storage"
)

func testKey(t *testing.T) (*storage.APIKey, string) {
	t.Helper()

	plaintext, err := storage.GenerateAPIKey("scraper")
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	return &storage.APIKey{
		ID:        "key-test-1",
		Key:       plaintext,
		Owner:     "scraper",
		Name:      "test key",
		CreatedAt: time.Now(),
		Active:    true,
	}, plaintext
}

// singleKeyStore matches exactly one plaintext key.
type singleKeyStore struct {
	key       *storage.APIKey
	plaintext string
}

func (s *singleKeyStore) FindByKey(_ context.Context, key string) (*storage.APIKey, bool) {
	if s.key != nil && key == s.plaintext {
		copied := *s.key

		return &copied, true
	}

	return nil, false
}

func (s *singleKeyStore) Add(_ context.Context, _ *storage.APIKey) error { return nil }

func (s *singleKeyStore) Delete(_ context.Context, _ string) error { return nil }

func (s *singleKeyStore) ListByOwner(_ context.Context, _ string) ([]*storage.APIKey, error) {
	return nil, nil
}

func serveAuth(t *testing.T, store storage.KeyStore, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	handler := Authenticate(store, slog.Default())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			consumer, _ := GetConsumerContext(r.Context())
			_, _ = w.Write([]byte(consumer.Owner))
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

// ==============================================================================
// Unit Tests: API key authentication
// ==============================================================================

func TestAuthenticateAcceptsValidKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, plaintext := testKey(t)
	store := &singleKeyStore{key: key, plaintext: plaintext}

	rec := serveAuth(t, store, func(r *http.Request) {
		r.Header.Set("X-Api-Key", plaintext)
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec.Body.String() != "scraper" {
		t.Errorf("consumer owner = %q", rec.Body.String())
	}
}

func TestAuthenticateAcceptsBearerHeader(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, plaintext := testKey(t)
	store := &singleKeyStore{key: key, plaintext: plaintext}

	rec := serveAuth(t, store, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+plaintext)
	})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAuthenticateRejectsMissingKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rec := serveAuth(t, &singleKeyStore{}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	if got := rec.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("Content-Type = %q", got)
	}

	var problem map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}

	if problem["title"] != "Unauthorized" {
		t.Errorf("problem = %v", problem)
	}
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, _ := testKey(t)
	_, other := testKey(t)
	store := &singleKeyStore{key: key, plaintext: "never matched"}

	rec := serveAuth(t, store, func(r *http.Request) {
		r.Header.Set("X-Api-Key", other)
	})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateRejectsInactiveKeyWith403(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, plaintext := testKey(t)
	key.Active = false
	store := &singleKeyStore{key: key, plaintext: plaintext}

	rec := serveAuth(t, store, func(r *http.Request) {
		r.Header.Set("X-Api-Key", plaintext)
	})

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAuthenticateRejectsExpiredKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, plaintext := testKey(t)
	expired := time.Now().Add(-time.Hour)
	key.ExpiresAt = &expired
	store := &singleKeyStore{key: key, plaintext: plaintext}

	rec := serveAuth(t, store, func(r *http.Request) {
		r.Header.Set("X-Api-Key", plaintext)
	})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateBypassesPublicEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/health-bypass-test")

	handler := Authenticate(&singleKeyStore{}, slog.Default())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/health-bypass-test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("public endpoint status = %d, want 200 without key", rec.Code)
	}
}

func TestExtractAPIKeyRejectsHeaderInjection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"plain key", "trailblaze_ak_abc", true},
		{"padded key", "  trailblaze_ak_abc  ", true},
		{"newline", "key\nX-Evil: 1", false},
		{"carriage return", "key\r", false},
		{"whitespace only", "   ", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := cleanAPIKey(tc.key); ok != tc.valid {
				t.Errorf("cleanAPIKey(%q) ok = %v, want %v", tc.key, ok, tc.valid)
			}
		})
	}
}
