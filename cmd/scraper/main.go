// Package main provides the TrailBlaze calendar scraper.
//
// The scraper runs the ingestion pipeline for one or more event sources:
// fetch, clean, chunk, extract, validate, transform, upsert, verify.
// Each run writes a JSON report to the metrics directory.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/trailblaze-io/trailblaze/internal/config"
	"github.com/trailblaze-io/trailblaze/internal/extractor"
	"github.com/trailblaze-io/trailblaze/internal/geocode"
	"github.com/trailblaze-io/trailblaze/internal/pipeline"
	"github.com/trailblaze-io/trailblaze/internal/publisher"
	"github.com/trailblaze-io/trailblaze/internal/source"
	"github.com/trailblaze-io/trailblaze/internal/source/aerc"
	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "scraper"
)

// drivers maps source argument names to driver constructors. New sources
// register here.
var drivers = map[string]func() source.Driver{ //nolint:gochecknoglobals
	"aerc": func() source.Driver { return aerc.New() },
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	cfg, err := pipeline.LoadConfig()
	if err != nil {
		logger.Error("Failed to load pipeline configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid pipeline configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	selected, err := selectDrivers(flag.Args())
	if err != nil {
		logger.Error("Unknown source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Starting TrailBlaze scraper",
		slog.String("service", name),
		slog.String("version", version),
		slog.Int("sources", len(selected)),
		slog.String("cache_dir", cfg.CacheDir),
		slog.String("metrics_dir", cfg.MetricsDir),
		slog.Bool("ai_extraction", cfg.UseAIExtraction),
	)

	storageConfig := storage.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := storage.NewConnection(ctx, storageConfig, logger)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	store := storage.NewEventStore(dbConn, logger)

	opts := []pipeline.OrchestratorOption{
		pipeline.WithGeocoder(geocode.Noop{}),
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := publisher.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)

		defer func() {
			_ = pub.Close()
		}()

		opts = append(opts, pipeline.WithPublisher(pub))

		logger.Info("Change publishing enabled",
			slog.Int("brokers", len(cfg.KafkaBrokers)),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	if cfg.UseAIExtraction {
		opts = append(opts, pipeline.WithAssistedExtraction(
			extractor.NewAssisted(cfg.AnthropicAPIKey, cfg.AssistedModel)))

		logger.Info("Assisted extraction enabled", slog.String("model", cfg.AssistedModel))
	}

	orchestrator := pipeline.NewOrchestrator(cfg, store, logger, opts...)

	failed := 0

	for _, driver := range selected {
		run, runErr := orchestrator.Run(ctx, driver)
		if runErr != nil {
			failed++

			logger.Error("Run failed",
				slog.String("source", driver.Source().String()),
				slog.String("error", runErr.Error()),
			)

			continue
		}

		logger.Info("Run completed",
			slog.String("source", driver.Source().String()),
			slog.String("run_id", run.RunID),
		)
	}

	if failed > 0 {
		logger.Error("Scrape finished with failures",
			slog.Int("failed", failed),
			slog.Int("total", len(selected)),
		)
		os.Exit(1)
	}

	logger.Info("Scrape finished")
}

// selectDrivers resolves source arguments to drivers. No arguments
// selects every registered source.
func selectDrivers(args []string) ([]source.Driver, error) {
	if len(args) == 0 {
		selected := make([]source.Driver, 0, len(drivers))
		for _, build := range drivers {
			selected = append(selected, build())
		}

		return selected, nil
	}

	selected := make([]source.Driver, 0, len(args))

	for _, arg := range args {
		build, ok := drivers[strings.ToLower(arg)]
		if !ok {
			return nil, &unknownSourceError{name: arg}
		}

		selected = append(selected, build())
	}

	return selected, nil
}

type unknownSourceError struct {
	name string
}

func (e *unknownSourceError) Error() string {
	known := make([]string, 0, len(drivers))
	for name := range drivers {
		known = append(known, name)
	}

	return "unknown source " + e.name + " (known: " + strings.Join(known, ", ") + ")"
}
