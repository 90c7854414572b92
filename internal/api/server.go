package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trailblaze-io/trailblaze/internal/api/middleware"
	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// Server serves the read-only events API.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	reader      events.Reader
	keyStore    storage.KeyStore
	rateLimiter middleware.RateLimiter
}

// NewServer builds the server with its middleware stack. Configuration
// and dependencies are kept apart: cfg holds ports and timeouts, the
// reader serves queries, and nil keyStore or rateLimiter disables the
// corresponding middleware.
func NewServer(cfg *ServerConfig, reader events.Reader, keyStore storage.KeyStore, rateLimiter middleware.RateLimiter) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		reader:      reader,
		keyStore:    keyStore,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if keyStore == nil { // pragma: allowlist secret
		logger.Warn("KeyStore not configured - API key authentication disabled")
	}

	if rateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting disabled")
	}

	// Middleware executes top-to-bottom: correlation IDs first so every
	// later layer can log them, recovery next to catch everything below,
	// auth before rate limiting so limits key on the consumer, and
	// logging after rate limiting so rejected floods stay out of the log.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(keyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the server until a shutdown signal or listener error.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting TrailBlaze API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests within the shutdown timeout, then
// releases the stores and the rate limiter.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if closer, ok := s.keyStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Failed to close key store", slog.String("error", err.Error()))
		}
	}

	if closer, ok := s.rateLimiter.(interface{ Close() }); ok {
		closer.Close()
	}

	s.logger.Info("Server shutdown completed")

	return nil
}
