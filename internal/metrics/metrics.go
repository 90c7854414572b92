// Package metrics accumulates per-run counters and timings for the
// ingestion pipeline and persists them as a JSON report per run.
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// DefaultDir is where run reports are written unless overridden.
const DefaultDir = "logs/metrics"

type (
	// StageTiming records how long one pipeline stage ran.
	StageTiming struct {
		Stage      string        `json:"stage"`
		StartedAt  time.Time     `json:"started_at"`
		FinishedAt time.Time     `json:"finished_at"`
		Duration   time.Duration `json:"duration_ns"`
	}

	// MemorySample is a point-in-time heap reading.
	MemorySample struct {
		TakenAt    time.Time `json:"taken_at"`
		Stage      string    `json:"stage"`
		HeapAlloc  uint64    `json:"heap_alloc_bytes"`
		TotalAlloc uint64    `json:"total_alloc_bytes"`
		NumGC      uint32    `json:"num_gc"`
	}

	// Counters are the pipeline's per-run event counters.
	Counters struct {
		CacheHits              int            `json:"cache_hits"`
		CacheMisses            int            `json:"cache_misses"`
		HTTPRequests           int            `json:"http_requests"`
		HTTPRetries            int            `json:"http_retries"`
		RowsFound              int            `json:"rows_found"`
		ChunksProcessed        int            `json:"chunks_processed"`
		EventsExtracted        int            `json:"events_extracted"`
		ExtractionErrors       int            `json:"extraction_errors"`
		ValidationErrors       int            `json:"validation_errors"`
		ValidationErrorsByKind map[string]int `json:"validation_errors_by_kind"`
		EventsTransformed      int            `json:"events_transformed"`
		TransformErrors        int            `json:"transform_errors"`
		EventsAdded            int            `json:"events_added"`
		EventsUpdated          int            `json:"events_updated"`
		EventsSkipped          int            `json:"events_skipped"`
		UpsertErrors           int            `json:"upsert_errors"`
	}

	// RunMetrics collects everything one pipeline run reports: identity,
	// counters, stage timings, memory samples, and the final disposition.
	// Safe for concurrent use.
	RunMetrics struct {
		mu sync.Mutex

		RunID      string        `json:"run_id"`
		Source     events.Source `json:"source"`
		StartedAt  time.Time     `json:"started_at"`
		FinishedAt time.Time     `json:"finished_at"`
		Success    bool          `json:"success"`
		Cancelled  bool          `json:"cancelled"`
		FailStage  string        `json:"fail_stage,omitempty"`
		FailReason string        `json:"fail_reason,omitempty"`

		Counters Counters       `json:"counters"`
		Stages   []StageTiming  `json:"stages"`
		Memory   []MemorySample `json:"memory"`
	}
)

// NewRun creates a RunMetrics for one source with a fresh run ID.
func NewRun(source events.Source) *RunMetrics {
	return &RunMetrics{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
		Counters: Counters{
			ValidationErrorsByKind: make(map[string]int),
		},
	}
}

// Count applies a mutation to the counters under the lock.
func (r *RunMetrics) Count(fn func(*Counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(&r.Counters)
}

// CountValidationError records one dropped row by violation kind.
func (r *RunMetrics) CountValidationError(kind string) {
	r.Count(func(c *Counters) {
		c.ValidationErrors++
		c.ValidationErrorsByKind[kind]++
	})
}

// TimeStage runs fn, recording its wall-clock duration and a memory
// sample under the stage name. The stage's error passes through.
func (r *RunMetrics) TimeStage(stage string, fn func() error) error {
	started := time.Now().UTC()
	err := fn()
	finished := time.Now().UTC()

	r.mu.Lock()
	r.Stages = append(r.Stages, StageTiming{
		Stage:      stage,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
	})
	r.mu.Unlock()

	r.SampleMemory(stage)

	return err
}

// SampleMemory appends a heap reading tagged with the current stage.
func (r *RunMetrics) SampleMemory(stage string) {
	var stats runtime.MemStats

	runtime.ReadMemStats(&stats)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Memory = append(r.Memory, MemorySample{
		TakenAt:    time.Now().UTC(),
		Stage:      stage,
		HeapAlloc:  stats.HeapAlloc,
		TotalAlloc: stats.TotalAlloc,
		NumGC:      stats.NumGC,
	})
}

// Finish marks the run complete. Call exactly once, on every exit path.
func (r *RunMetrics) Finish(success, cancelled bool, failStage string, failErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = time.Now().UTC()
	r.Success = success
	r.Cancelled = cancelled
	r.FailStage = failStage

	if failErr != nil {
		r.FailReason = failErr.Error()
	}
}

// WriteJSON persists the run report to dir as
// <source>_<timestamp>.json, creating the directory as needed. An empty
// dir uses DefaultDir.
func (r *RunMetrics) WriteJSON(dir string) (string, error) {
	if dir == "" {
		dir = DefaultDir
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create metrics directory: %w", err)
	}

	r.mu.Lock()
	payload, err := json.MarshalIndent(r, "", "  ")
	stamp := r.StartedAt.Format("20060102_150405")
	source := r.Source.String()
	r.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("failed to encode metrics: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", source, stamp))

	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("failed to write metrics file: %w", err)
	}

	return path, nil
}

// LogSummary emits a one-line structured summary of the run.
func (r *RunMetrics) LogSummary(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	logger.Info("run complete",
		"run_id", r.RunID,
		"source", r.Source,
		"success", r.Success,
		"cancelled", r.Cancelled,
		"duration", r.FinishedAt.Sub(r.StartedAt).String(),
		"events_extracted", r.Counters.EventsExtracted,
		"events_transformed", r.Counters.EventsTransformed,
		"events_added", r.Counters.EventsAdded,
		"events_updated", r.Counters.EventsUpdated,
		"validation_errors", r.Counters.ValidationErrors,
		"upsert_errors", r.Counters.UpsertErrors,
	)
}
