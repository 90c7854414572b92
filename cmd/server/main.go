// Package main provides the TrailBlaze read-only events API server.
//
// The server exposes ingested events over HTTP with API key
// authentication, per-consumer rate limiting, and health endpoints for
// orchestration probes.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/trailblaze-io/trailblaze/internal/api"
	"github.com/trailblaze-io/trailblaze/internal/api/middleware"
	"github.com/trailblaze-io/trailblaze/internal/config"
	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting TrailBlaze API server",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("consumer_rps", middlewareConfig.ConsumerRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(context.Background(), storageConfig, logger)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	var keyStore storage.KeyStore

	authEnabled := config.GetEnvBool("TRAILBLAZE_AUTH_ENABLED", false)
	if authEnabled {
		keyStore = storage.NewPersistentKeyStore(dbConn, logger)

		logger.Info("API key authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("API key authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set TRAILBLAZE_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	reader := storage.NewEventReader(dbConn, logger)

	logger.Info("Event reader initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	server := api.NewServer(serverConfig, reader, keyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("TrailBlaze API server stopped")
}
