package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/fetcher"
)

// fakeDriver serves a fixed calendar payload without any network use.
type fakeDriver struct {
	payload  []byte
	fetchErr error
	fetches  int
}

func (d *fakeDriver) Source() events.Source { return events.SourceAERC }

func (d *fakeDriver) CacheKey() string { return "fake_calendar" }

func (d *fakeDriver) RowSelector() string { return "div.calendarRow" }

func (d *fakeDriver) FetchPayload(_ context.Context, _ *fetcher.Client) ([]byte, error) {
	d.fetches++

	return d.payload, d.fetchErr
}

func (d *fakeDriver) ExtractRow(row *goquery.Selection) (events.RawRow, error) {
	name := strings.TrimSpace(row.Find("span.rideName").Text())
	if name == "" {
		return nil, nil
	}

	out := events.RawRow{"name": name}

	if date := strings.TrimSpace(row.Find("span.rideDate").Text()); date != "" {
		out["date_start"] = date
	}

	if loc := strings.TrimSpace(row.Find("span.rideLocation").Text()); loc != "" {
		out["location"] = loc
	}

	return out, nil
}

// fakeStore records upserted batches in memory.
type fakeStore struct {
	upserted  []*events.CanonicalEvent
	upsertErr error
}

func (s *fakeStore) UpsertEvent(_ context.Context, event *events.CanonicalEvent) (*events.UpsertResult, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}

	s.upserted = append(s.upserted, event)

	return &events.UpsertResult{Event: event, Inserted: true}, nil
}

func (s *fakeStore) UpsertEvents(ctx context.Context, batch []*events.CanonicalEvent) ([]*events.UpsertResult, error) {
	results := make([]*events.UpsertResult, 0, len(batch))

	for _, event := range batch {
		result, err := s.UpsertEvent(ctx, event)
		if err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}

func (s *fakeStore) CountBySource(_ context.Context, _ events.Source) (int, error) {
	return len(s.upserted), nil
}

func (s *fakeStore) HealthCheck(_ context.Context) error { return nil }

func calendarPayload(rows ...string) []byte {
	var b strings.Builder

	b.WriteString("<html><body><script>junk</script>")

	for _, row := range rows {
		b.WriteString(`<div class="calendarRow">` + row + `</div>`)
	}

	b.WriteString("</body></html>")

	return []byte(b.String())
}

func rowHTML(name, date, location string) string {
	return fmt.Sprintf(
		`<span class="rideName">%s</span><span class="rideDate">%s</span><span class="rideLocation">%s</span>`,
		name, date, location,
	)
}

// testChunkSize keeps all fixture rows in one chunk.
const testChunkSize = 30000

func testConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		MaxRetries:           1,
		CacheDir:             t.TempDir(),
		CacheTTL:             defaultCacheTTL,
		InitialChunkSize:     testChunkSize,
		MinChunkSize:         100,
		MaxChunkSize:         90000,
		ExtractorParallelism: 2,
		MetricsDir:           t.TempDir(),
	}
}

// ==============================================================================
// Unit Tests: Full run
// ==============================================================================

func TestRunHappyPath(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: calendarPayload(
		rowHTML("Desert Classic", "04/06/2024", "Reno, NV"),
		rowHTML("High Sierra Pioneer", "05/01/2024", "Bishop, CA"),
	)}
	store := &fakeStore{}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, store, slog.Default()).Run(context.Background(), driver)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if !run.Success || run.Cancelled {
		t.Errorf("run disposition = success %v cancelled %v", run.Success, run.Cancelled)
	}

	if run.Counters.EventsExtracted != 2 || run.Counters.EventsTransformed != 2 {
		t.Errorf("counters = %+v", run.Counters)
	}

	if run.Counters.EventsAdded != 2 {
		t.Errorf("EventsAdded = %d, want 2", run.Counters.EventsAdded)
	}

	if len(store.upserted) != 2 {
		t.Fatalf("store holds %d events, want 2", len(store.upserted))
	}

	if store.upserted[0].Name != "Desert Classic" {
		t.Errorf("first upserted event = %q", store.upserted[0].Name)
	}

	// All stages ran in order.
	wantStages := []string{StageFetch, StageClean, StageChunk, StageExtract, StageValidate, StageTransform, StageUpsert, StageVerify}
	if len(run.Stages) != len(wantStages) {
		t.Fatalf("recorded %d stages, want %d", len(run.Stages), len(wantStages))
	}

	for i, want := range wantStages {
		if run.Stages[i].Stage != want {
			t.Errorf("stage[%d] = %q, want %q", i, run.Stages[i].Stage, want)
		}
	}

	// The report was written.
	entries, readErr := os.ReadDir(cfg.MetricsDir)
	if readErr != nil || len(entries) != 1 {
		t.Errorf("metrics dir entries = %v (err %v)", entries, readErr)
	}
}

func TestRunUsesCacheOnSecondRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: calendarPayload(rowHTML("A", "04/06/2024", "Reno, NV"))}
	cfg := testConfig(t)
	o := NewOrchestrator(cfg, &fakeStore{}, slog.Default())

	if _, err := o.Run(context.Background(), driver); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	run, err := o.Run(context.Background(), driver)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	if driver.fetches != 1 {
		t.Errorf("driver fetched %d times, want 1 (second run cached)", driver.fetches)
	}

	if run.Counters.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", run.Counters.CacheHits)
	}
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{fetchErr: fetcher.ErrNetworkFailure}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, &fakeStore{}, slog.Default()).Run(context.Background(), driver)
	if !errors.Is(err, fetcher.ErrNetworkFailure) {
		t.Fatalf("Run() error = %v, want network failure", err)
	}

	if run.Success {
		t.Error("run reported success despite fetch failure")
	}

	if run.FailStage != StageFetch {
		t.Errorf("FailStage = %q, want fetch", run.FailStage)
	}

	// The report is still written on failure.
	entries, readErr := os.ReadDir(cfg.MetricsDir)
	if readErr != nil || len(entries) != 1 {
		t.Errorf("metrics dir entries = %v (err %v)", entries, readErr)
	}
}

func TestRunEmptyCalendarIsFatalAtClean(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: []byte("<html><body><p>no events</p></body></html>")}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, &fakeStore{}, slog.Default()).Run(context.Background(), driver)
	if err == nil {
		t.Fatal("Run() succeeded on empty calendar")
	}

	if run.FailStage != StageClean {
		t.Errorf("FailStage = %q, want clean", run.FailStage)
	}
}

func TestRunDropsInvalidRowsAndContinues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: calendarPayload(
		rowHTML("Good Ride", "04/06/2024", "Reno, NV"),
		`<span class="rideName">No Date</span><span class="rideLocation">Reno, NV</span>`,
	)}
	store := &fakeStore{}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, store, slog.Default()).Run(context.Background(), driver)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if run.Counters.ValidationErrors != 1 {
		t.Errorf("ValidationErrors = %d, want 1", run.Counters.ValidationErrors)
	}

	if run.Counters.ValidationErrorsByKind["missing_date"] != 1 {
		t.Errorf("ValidationErrorsByKind = %v", run.Counters.ValidationErrorsByKind)
	}

	if len(store.upserted) != 1 {
		t.Errorf("store holds %d events, want 1", len(store.upserted))
	}
}

func TestRunCancellation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &fakeDriver{payload: calendarPayload(rowHTML("A", "04/06/2024", "Reno, NV"))}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, &fakeStore{}, slog.Default()).Run(ctx, driver)
	if err == nil {
		t.Fatal("Run() succeeded under cancelled context")
	}

	if !run.Cancelled {
		t.Error("run not marked cancelled")
	}

	entries, readErr := os.ReadDir(cfg.MetricsDir)
	if readErr != nil || len(entries) != 1 {
		t.Errorf("metrics dir entries = %v (err %v), report must be written on cancel", entries, readErr)
	}
}

// stalledDriver blocks in fetch until the run context expires.
type stalledDriver struct {
	fakeDriver
}

func (d *stalledDriver) FetchPayload(ctx context.Context, _ *fetcher.Client) ([]byte, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func TestRunTimeoutCancelsStuckRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &stalledDriver{}
	cfg := testConfig(t)
	cfg.RunTimeout = 20 * time.Millisecond

	run, err := NewOrchestrator(cfg, &fakeStore{}, slog.Default()).Run(context.Background(), driver)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	if !run.Cancelled || run.Success {
		t.Errorf("run disposition = success %v cancelled %v", run.Success, run.Cancelled)
	}

	if run.FailStage != StageFetch {
		t.Errorf("FailStage = %q, want fetch", run.FailStage)
	}

	// The report is still written when the deadline fires.
	entries, readErr := os.ReadDir(cfg.MetricsDir)
	if readErr != nil || len(entries) != 1 {
		t.Errorf("metrics dir entries = %v (err %v)", entries, readErr)
	}
}

func TestRunUpsertConnectionLossIsFatal(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: calendarPayload(rowHTML("A", "04/06/2024", "Reno, NV"))}
	store := &fakeStore{upsertErr: errors.New("connection refused")}
	cfg := testConfig(t)

	run, err := NewOrchestrator(cfg, store, slog.Default()).Run(context.Background(), driver)
	if err == nil {
		t.Fatal("Run() succeeded despite store failure")
	}

	if run.FailStage != StageUpsert {
		t.Errorf("FailStage = %q, want upsert", run.FailStage)
	}
}

func TestRunRequiresDriver(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	o := NewOrchestrator(testConfig(t), &fakeStore{}, slog.Default())

	if _, err := o.Run(context.Background(), nil); !errors.Is(err, ErrNoDriver) {
		t.Errorf("Run(nil) error = %v, want ErrNoDriver", err)
	}
}

// Guard against stage labels drifting out of the report filenames.
func TestReportFilenameCarriesSource(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	driver := &fakeDriver{payload: calendarPayload(rowHTML("A", "04/06/2024", "Reno, NV"))}
	cfg := testConfig(t)

	if _, err := NewOrchestrator(cfg, &fakeStore{}, slog.Default()).Run(context.Background(), driver); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	entries, err := os.ReadDir(cfg.MetricsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("metrics dir entries = %v (err %v)", entries, err)
	}

	if !strings.HasPrefix(entries[0].Name(), "AERC_") {
		t.Errorf("report name = %q", entries[0].Name())
	}

	if filepath.Ext(entries[0].Name()) != ".json" {
		t.Errorf("report extension = %q", filepath.Ext(entries[0].Name()))
	}
}

// Compile-time check that the fake satisfies the domain interface.
var _ events.Store = (*fakeStore)(nil)
