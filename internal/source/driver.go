// Package source defines the pluggable Source Driver contract.
//
// A Driver bundles the source-specific pieces the source-agnostic
// pipeline needs: endpoints and payload shape (FetchPayload), the row
// selector the Cleaner and Chunker preserve, and the field extraction
// rules that turn one calendar row into a RawRow. Drivers register with
// the Orchestrator at startup; the dependency is one-way.
package source

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/fetcher"
)

// Driver is the source-specific half of the ingestion pipeline.
type Driver interface {
	// Source identifies the calendar this driver ingests.
	Source() events.Source

	// CacheKey is the stable cache key for the source's raw payload.
	CacheKey() string

	// FetchPayload retrieves the raw calendar payload, which may be
	// JSON-wrapped HTML. The driver owns endpoint knowledge; the client
	// owns retry policy.
	FetchPayload(ctx context.Context, client *fetcher.Client) ([]byte, error)

	// RowSelector is the CSS selector matching one calendar row, the
	// atomic unit the Chunker preserves.
	RowSelector() string

	// ExtractRow builds a RawRow from a single selected calendar row.
	// Returning a nil row (with nil error) skips the row.
	ExtractRow(row *goquery.Selection) (events.RawRow, error)
}
