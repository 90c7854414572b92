package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/trailblaze-io/trailblaze/internal/cache"
	"github.com/trailblaze-io/trailblaze/internal/chunker"
	"github.com/trailblaze-io/trailblaze/internal/cleaner"
	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/extractor"
	"github.com/trailblaze-io/trailblaze/internal/fetcher"
	"github.com/trailblaze-io/trailblaze/internal/geocode"
	"github.com/trailblaze-io/trailblaze/internal/metrics"
	"github.com/trailblaze-io/trailblaze/internal/publisher"
	"github.com/trailblaze-io/trailblaze/internal/source"
	"github.com/trailblaze-io/trailblaze/internal/transform"
)

// Stage names, in run order. Reports and logs use these labels.
const (
	StageInit      = "init"
	StageFetch     = "fetch"
	StageClean     = "clean"
	StageChunk     = "chunk"
	StageExtract   = "extract"
	StageValidate  = "validate"
	StageTransform = "transform"
	StageUpsert    = "upsert"
	StageVerify    = "verify"
)

// lossAlertThreshold is the fraction of extracted rows a run may lose
// through validation and transformation before VERIFY escalates the
// discrepancy from WARN to ERROR. The run still succeeds; the signal is
// for operators.
const lossAlertThreshold = 0.10

// ErrNoDriver is returned when Run is called without a driver.
var ErrNoDriver = errors.New("no source driver")

// Orchestrator wires the stage components together and drives one run
// per source. Fatal stage errors stop the run; per-row errors are
// counted and skipped. The metrics report is written on every exit
// path, including cancellation.
type Orchestrator struct {
	cfg      *Config
	store    events.Store
	pub      *publisher.Publisher
	geocoder geocode.Geocoder
	assisted extractor.Strategy
	logger   *slog.Logger
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithPublisher attaches a change publisher. A nil publisher is ignored.
func WithPublisher(p *publisher.Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.pub = p }
}

// WithGeocoder attaches a coordinate resolver for events without
// coordinates.
func WithGeocoder(g geocode.Geocoder) OrchestratorOption {
	return func(o *Orchestrator) { o.geocoder = g }
}

// WithAssistedExtraction attaches the AI-assisted extraction strategy.
func WithAssistedExtraction(s extractor.Strategy) OrchestratorOption {
	return func(o *Orchestrator) { o.assisted = s }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg *Config, store events.Store, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "orchestrator"),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes one full ingestion run for a source driver and returns
// the run report. The report is also written to the metrics directory;
// a write failure is logged, never fatal.
func (o *Orchestrator) Run(ctx context.Context, driver source.Driver) (*metrics.RunMetrics, error) {
	if driver == nil {
		return nil, ErrNoDriver
	}

	// A stuck run cancels itself once the per-run deadline passes; zero
	// disables the deadline.
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)

		defer cancel()
	}

	run := metrics.NewRun(driver.Source())
	logger := o.logger.With("source", driver.Source(), "run_id", run.RunID)
	logger.Info("run starting", "stage", StageInit)

	err := o.execute(ctx, driver, run, logger)

	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	run.Finish(err == nil, cancelled, failStage(err), err)
	run.LogSummary(logger)

	if path, writeErr := run.WriteJSON(o.cfg.MetricsDir); writeErr != nil {
		logger.Error("failed to write run report", "error", writeErr)
	} else {
		logger.Info("run report written", "path", path)
	}

	return run, err
}

// stageError tags a fatal error with the stage that raised it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }

func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func failStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}

	if err != nil {
		return StageInit
	}

	return ""
}

// execute runs the stages in order, stopping at the first fatal error.
func (o *Orchestrator) execute(ctx context.Context, driver source.Driver, run *metrics.RunMetrics, logger *slog.Logger) error {
	payloadCache, client, err := o.buildFetchStack(driver, logger)
	if err != nil {
		return fail(StageInit, err)
	}

	// FETCH
	var payload []byte

	err = run.TimeStage(StageFetch, func() error {
		var fetchErr error
		payload, fetchErr = o.fetch(ctx, driver, payloadCache, client, run, logger)

		return fetchErr
	})
	if err != nil {
		return fail(StageFetch, err)
	}

	// CLEAN
	var cleaned string

	err = run.TimeStage(StageClean, func() error {
		var cleanErr error
		cleaned, cleanErr = cleaner.New(driver.RowSelector(), logger).Clean(payload)

		return cleanErr
	})
	if err != nil {
		return fail(StageClean, err)
	}

	// CHUNK
	var chunks []string

	err = run.TimeStage(StageChunk, func() error {
		var chunkErr error
		chunks, chunkErr = chunker.New(chunker.Options{
			InitialSize: o.cfg.InitialChunkSize,
			MinSize:     o.cfg.MinChunkSize,
			MaxSize:     o.cfg.MaxChunkSize,
		}, driver.RowSelector(), logger).Chunk(cleaned)

		return chunkErr
	})
	if err != nil {
		return fail(StageChunk, err)
	}

	// EXTRACT
	var rows []events.RawRow

	err = run.TimeStage(StageExtract, func() error {
		var extractErr error
		rows, extractErr = o.extract(ctx, driver, chunks, run, logger)

		return extractErr
	})
	if err != nil {
		return fail(StageExtract, err)
	}

	// VALIDATE
	var valid []events.RawRow

	_ = run.TimeStage(StageValidate, func() error {
		valid = o.validate(rows, run, logger)

		return nil
	})

	// TRANSFORM
	var batch []*events.CanonicalEvent

	err = run.TimeStage(StageTransform, func() error {
		return o.transformBatch(ctx, driver, valid, &batch, run, logger)
	})
	if err != nil {
		return fail(StageTransform, err)
	}

	// UPSERT
	err = run.TimeStage(StageUpsert, func() error {
		return o.upsert(ctx, run, batch, logger)
	})
	if err != nil {
		return fail(StageUpsert, err)
	}

	// VERIFY
	_ = run.TimeStage(StageVerify, func() error {
		o.verify(ctx, driver, run, logger)

		return nil
	})

	return nil
}

// buildFetchStack creates the per-run cache and HTTP client.
func (o *Orchestrator) buildFetchStack(driver source.Driver, logger *slog.Logger) (*cache.Cache, *fetcher.Client, error) {
	dir := filepath.Join(o.cfg.CacheDir, strings.ToLower(driver.Source().String()))

	payloadCache, err := cache.New(dir, o.cfg.CacheTTL, o.cfg.RefreshCache, logger)
	if err != nil {
		return nil, nil, err
	}

	client := fetcher.NewClient(fetcher.Options{
		MaxRetries:     o.cfg.MaxRetries,
		RetryDelay:     o.cfg.RetryDelay,
		RequestTimeout: o.cfg.RequestTimeout,
	}, logger)

	return payloadCache, client, nil
}

// fetch returns the raw payload, preferring the cache.
func (o *Orchestrator) fetch(ctx context.Context, driver source.Driver, payloadCache *cache.Cache, client *fetcher.Client, run *metrics.RunMetrics, logger *slog.Logger) ([]byte, error) {
	if payload, ok := payloadCache.Get(driver.CacheKey()); ok {
		run.Count(func(c *metrics.Counters) { c.CacheHits++ })
		logger.Info("using cached payload", "bytes", len(payload))

		return payload, nil
	}

	run.Count(func(c *metrics.Counters) { c.CacheMisses++ })

	payload, err := driver.FetchPayload(ctx, client)

	clientMetrics := client.Metrics()
	run.Count(func(c *metrics.Counters) {
		c.HTTPRequests += clientMetrics.Requests
		c.HTTPRetries += clientMetrics.Retries
	})

	if err != nil {
		return nil, err
	}

	if cacheErr := payloadCache.Set(driver.CacheKey(), payload); cacheErr != nil {
		logger.Warn("failed to cache payload", "error", cacheErr)
	}

	logger.Info("payload fetched", "bytes", len(payload))

	return payload, nil
}

// extract runs structural (plus optional assisted) extraction over the
// chunks.
func (o *Orchestrator) extract(ctx context.Context, driver source.Driver, chunks []string, run *metrics.RunMetrics, logger *slog.Logger) ([]events.RawRow, error) {
	opts := []extractor.Option{extractor.WithParallelism(o.cfg.ExtractorParallelism)}

	if o.cfg.UseAIExtraction && o.assisted != nil {
		opts = append(opts, extractor.WithAssisted(o.assisted))
	}

	ext := extractor.New(extractor.NewStructural(driver), logger, opts...)

	rows, err := ext.ExtractAll(ctx, chunks)

	extMetrics := ext.Metrics()
	run.Count(func(c *metrics.Counters) {
		c.ChunksProcessed += extMetrics.ChunksProcessed
		c.EventsExtracted += extMetrics.EventsExtracted
		c.ExtractionErrors += extMetrics.ExtractionErrors
		c.RowsFound += len(rows)
	})

	return rows, err
}

// validate drops rows missing required fields, counting each violation
// by kind. Never fatal.
func (o *Orchestrator) validate(rows []events.RawRow, run *metrics.RunMetrics, logger *slog.Logger) []events.RawRow {
	validator := events.NewValidator()
	valid := make([]events.RawRow, 0, len(rows))

	for i, row := range rows {
		kind, err := validator.Validate(row)
		if err != nil {
			run.CountValidationError(string(kind))
			logger.Warn("dropping invalid row", "index", i, "kind", kind, "error", err)

			continue
		}

		valid = append(valid, row)
	}

	return valid
}

// transformBatch shapes valid rows into canonical events and enriches
// coordinates. Zero produced events is fatal only when rows went in.
func (o *Orchestrator) transformBatch(ctx context.Context, driver source.Driver, valid []events.RawRow, batch *[]*events.CanonicalEvent, run *metrics.RunMetrics, logger *slog.Logger) error {
	transformer := transform.New(driver.Source(), logger)
	*batch = transformer.TransformAll(valid)

	tm := transformer.Metrics()
	run.Count(func(c *metrics.Counters) {
		c.EventsTransformed += tm.Transformed
		c.TransformErrors += tm.Errors
	})

	if len(valid) > 0 && len(*batch) == 0 {
		return transform.ErrTransformFailed
	}

	if o.geocoder != nil {
		if err := geocode.Enrich(ctx, o.geocoder, *batch); err != nil {
			logger.Warn("geocoding aborted", "error", err)
		}
	}

	return nil
}

// upsert reconciles the batch and publishes accepted changes.
func (o *Orchestrator) upsert(ctx context.Context, run *metrics.RunMetrics, batch []*events.CanonicalEvent, logger *slog.Logger) error {
	results, err := o.store.UpsertEvents(ctx, batch)

	for _, result := range results {
		run.Count(func(c *metrics.Counters) {
			switch {
			case result.Error != nil:
				c.UpsertErrors++
			case result.Inserted:
				c.EventsAdded++
			case result.Updated:
				c.EventsUpdated++
			default:
				c.EventsSkipped++
			}
		})
	}

	if err != nil {
		return err
	}

	if pubErr := o.pub.PublishResults(ctx, run.RunID, results); pubErr != nil {
		// The database is the source of truth; messaging failures do not
		// fail the run.
		logger.Error("failed to publish changes", "error", pubErr)
	}

	return nil
}

// verify cross-checks the run's counters against the store and logs
// discrepancies. Verification never fails a run.
func (o *Orchestrator) verify(ctx context.Context, driver source.Driver, run *metrics.RunMetrics, logger *slog.Logger) {
	var extracted, written, lost int

	run.Count(func(c *metrics.Counters) {
		extracted = c.EventsExtracted
		written = c.EventsAdded + c.EventsUpdated
		lost = extracted - c.EventsTransformed
	})

	if extracted > 0 {
		lossRate := float64(lost) / float64(extracted)

		if lossRate >= lossAlertThreshold {
			logger.Error("excessive row loss between extraction and transform",
				"extracted", extracted, "lost", lost, "loss_rate", fmt.Sprintf("%.1f%%", lossRate*100))
		} else if lost > 0 {
			logger.Warn("rows lost between extraction and transform",
				"extracted", extracted, "lost", lost)
		}
	}

	count, err := o.store.CountBySource(ctx, driver.Source())
	if err != nil {
		logger.Warn("store count unavailable", "error", err)

		return
	}

	if count < written {
		logger.Warn("store holds fewer events than this run wrote",
			"stored", count, "written", written)
	}

	logger.Info("verification complete", "stored", count, "written", written)
}
