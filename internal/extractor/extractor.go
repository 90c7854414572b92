// Package extractor turns cleaned HTML chunks into raw event rows.
//
// Two interchangeable strategies exist: a structural pass driven by the
// Source Driver's DOM selectors, and an optional AI-assisted pass that
// asks a text-completion service for rows the structural pass missed.
// The assisted pass only ever supplements the structural result; its
// failures degrade to the structural output alone.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// ErrExtractionFailed indicates no chunk yielded any event row.
// Fatal to a pipeline run.
var ErrExtractionFailed = errors.New("extraction produced no events")

type (
	// Strategy extracts raw rows from a single chunk. An empty result
	// with nil error is legal; a chunk may simply hold no usable rows.
	Strategy interface {
		Extract(ctx context.Context, chunk string) ([]events.RawRow, error)
	}

	// Metrics are the extraction counters accumulated over a run.
	Metrics struct {
		ChunksProcessed  int `json:"chunks_processed"`
		EventsExtracted  int `json:"events_extracted"`
		ExtractionErrors int `json:"extraction_errors"`
	}

	// Extractor fans chunks out to the configured strategies and gathers
	// results in input order.
	Extractor struct {
		structural  Strategy
		assisted    Strategy
		parallelism int
		logger      *slog.Logger

		mu      sync.Mutex
		metrics Metrics
	}

	// Option configures an Extractor.
	Option func(*Extractor)
)

// WithAssisted enables the AI-assisted supplement strategy.
func WithAssisted(s Strategy) Option {
	return func(e *Extractor) { e.assisted = s }
}

// WithParallelism bounds concurrent chunk processing. Values below one
// mean sequential.
func WithParallelism(n int) Option {
	return func(e *Extractor) { e.parallelism = n }
}

// New creates an Extractor over the structural strategy.
func New(structural Strategy, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Extractor{
		structural:  structural,
		parallelism: 1,
		logger:      logger.With("component", "extractor"),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.parallelism < 1 {
		e.parallelism = 1
	}

	return e
}

// ExtractAll processes every chunk and returns the aggregated rows in
// chunk order. Per-chunk failures are counted and logged; the call fails
// with ErrExtractionFailed only when chunks were supplied and not a
// single row came back.
func (e *Extractor) ExtractAll(ctx context.Context, chunks []string) ([]events.RawRow, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to process", ErrExtractionFailed)
	}

	results := make([][]events.RawRow, len(chunks))
	sem := make(chan struct{}, e.parallelism)

	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)

		go func(idx int, chunk string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			results[idx] = e.extractChunk(ctx, idx, chunk)
		}(i, chunk)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []events.RawRow
	for _, chunkRows := range results {
		rows = append(rows, chunkRows...)
	}

	e.count(func(m *Metrics) { m.EventsExtracted = len(rows) })

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d chunks processed", ErrExtractionFailed, len(chunks))
	}

	return rows, nil
}

// extractChunk runs the structural pass and, when enabled, supplements
// it with assisted rows not already present.
func (e *Extractor) extractChunk(ctx context.Context, idx int, chunk string) []events.RawRow {
	e.count(func(m *Metrics) { m.ChunksProcessed++ })

	rows, err := e.structural.Extract(ctx, chunk)
	if err != nil {
		e.count(func(m *Metrics) { m.ExtractionErrors++ })
		e.logger.Warn("structural extraction failed", "chunk", idx, "error", err)

		rows = nil
	}

	if e.assisted == nil {
		return rows
	}

	supplement, err := e.assisted.Extract(ctx, chunk)
	if err != nil {
		// Assisted failures never poison the structural result.
		e.count(func(m *Metrics) { m.ExtractionErrors++ })
		e.logger.Warn("assisted extraction failed", "chunk", idx, "error", err)

		return rows
	}

	return mergeRows(rows, supplement)
}

// mergeRows appends assisted rows whose (name, date_start) identity is
// absent from the structural result. Structural rows always win.
func mergeRows(structural, assisted []events.RawRow) []events.RawRow {
	seen := make(map[string]struct{}, len(structural))

	for _, row := range structural {
		seen[rowIdentity(row)] = struct{}{}
	}

	merged := structural

	for _, row := range assisted {
		if _, dup := seen[rowIdentity(row)]; dup {
			continue
		}

		merged = append(merged, row)
	}

	return merged
}

func rowIdentity(row events.RawRow) string {
	return row.String("name") + "|" + row.String("date_start")
}

// Metrics returns a snapshot of the extraction counters.
func (e *Extractor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.metrics
}

func (e *Extractor) count(fn func(*Metrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn(&e.metrics)
}
