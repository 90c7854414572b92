package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/trailblaze-io/trailblaze/internal/config"
	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// TestServerAuthenticationIntegration exercises the complete flow: a real
// PostgreSQL-backed key store and event reader behind the full middleware
// stack.
func TestServerAuthenticationIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	connStr, err := testDB.Container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	conn, err := storage.NewConnection(ctx, storage.NewConfig(connStr), slog.Default())
	require.NoError(t, err, "Failed to open storage connection")

	t.Cleanup(func() {
		_ = conn.Close()
	})

	// Seed one event through the write path.
	store := storage.NewEventStore(conn, slog.Default())
	result, err := store.UpsertEvent(ctx, &events.CanonicalEvent{
		Source:    events.SourceAERC,
		RideID:    "3001",
		Name:      "City of Rocks Pioneer",
		DateStart: time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC),
		Location:  "Almo, ID",
		Region:    "MT",
		Country:   "USA",
	})
	require.NoError(t, err, "Failed to seed event")
	require.NoError(t, result.Error, "Seed upsert reported an error")

	// Issue an API key for the dashboard consumer.
	keyStore := storage.NewPersistentKeyStore(conn, slog.Default())

	plaintext, err := storage.GenerateAPIKey("dashboard")
	require.NoError(t, err, "Failed to generate API key")

	require.NoError(t, keyStore.Add(ctx, &storage.APIKey{
		ID:        uuid.NewString(),
		Key:       plaintext,
		Owner:     "dashboard",
		Name:      "integration test key",
		CreatedAt: time.Now(),
		Active:    true,
	}), "Failed to store API key")

	reader := storage.NewEventReader(conn, slog.Default())

	cfg := validServerConfig()
	cfg.CORSAllowedOrigins = []string{"*"}
	cfg.CORSAllowedMethods = []string{"GET", "OPTIONS"}
	cfg.CORSAllowedHeaders = []string{"Content-Type", "X-Api-Key"}
	cfg.CORSMaxAge = defaultCORSMaxAge

	server := NewServer(cfg, reader, keyStore, nil)

	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(ts.Close)

	client := ts.Client()

	t.Run("request without key is rejected", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/v1/events")
		require.NoError(t, err)

		defer func() {
			_ = resp.Body.Close()
		}()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	})

	t.Run("request with valid key returns events", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", plaintext)

		resp, err := client.Do(req)
		require.NoError(t, err)

		defer func() {
			_ = resp.Body.Close()
		}()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list EventListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		require.Equal(t, 1, list.Total)
		require.Len(t, list.Events, 1)
		require.Equal(t, "City of Rocks Pioneer", list.Events[0].Name)
		require.Equal(t, "MT", list.Events[0].Region)
	})

	t.Run("detail endpoint hydrates the stored event", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", plaintext)

		resp, err := client.Do(req)
		require.NoError(t, err)

		var list EventListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		_ = resp.Body.Close()
		require.NotEmpty(t, list.Events)

		detailURL := ts.URL + "/api/v1/events/" + strconv.FormatInt(list.Events[0].ID, 10)

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", plaintext)

		resp, err = client.Do(req)
		require.NoError(t, err)

		defer func() {
			_ = resp.Body.Close()
		}()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var detail EventDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
		require.Equal(t, "3001", detail.RideID)
		require.Equal(t, "AERC", detail.Source)
		require.NotNil(t, detail.DateEnd)
	})

	t.Run("health endpoints bypass authentication", func(t *testing.T) {
		for _, path := range []string{"/ping", "/ready", "/health"} {
			resp, err := client.Get(ts.URL + path)
			require.NoError(t, err, path)
			require.Equal(t, http.StatusOK, resp.StatusCode, path)
			_ = resp.Body.Close()
		}
	})

	t.Run("deactivated key stops working", func(t *testing.T) {
		keys, err := keyStore.ListByOwner(ctx, "dashboard")
		require.NoError(t, err)
		require.NotEmpty(t, keys)
		require.NoError(t, keyStore.Delete(ctx, keys[0].ID))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", plaintext)

		resp, err := client.Do(req)
		require.NoError(t, err)

		defer func() {
			_ = resp.Body.Close()
		}()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
