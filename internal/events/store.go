// Package events defines the persistence interface the pipeline writes
// through.
//
// The domain package owns this interface so that pipeline logic does not
// depend on a concrete database; the PostgreSQL implementation lives in
// internal/storage.
package events

import (
	"context"
	"time"
)

// Store is the event-store interface consumed by the Upserter stage.
//
// Implementations must be idempotent: re-running the same batch against
// the same store updates existing rows instead of inserting duplicates.
// Resolution order per event:
//
//  1. When RideID is set, match on (source, ride_id).
//  2. Otherwise match on (source, name, date_start::date).
//  3. No match: insert.
//
// Updates overwrite stored fields only with non-null incoming values and
// merge event_details shallowly. Each event is written in its own short
// transaction so one bad event cannot poison a batch.
type Store interface {
	// UpsertEvent reconciles a single canonical event against the store.
	UpsertEvent(ctx context.Context, event *CanonicalEvent) (*UpsertResult, error)

	// UpsertEvents reconciles a batch in input order, returning one
	// result per event. Per-event failures are reported in the result,
	// not as the batch error; the batch error is reserved for connection
	// loss and cancellation.
	UpsertEvents(ctx context.Context, batch []*CanonicalEvent) ([]*UpsertResult, error)

	// CountBySource returns the number of stored rows for a source.
	// The Orchestrator's VERIFY stage compares this against the run's
	// added/updated counters.
	CountBySource(ctx context.Context, source Source) (int, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// Reader is the read-side interface the HTTP API serves from.
type Reader interface {
	// ListEvents returns a page of stored events matching the filter,
	// newest date_start first, along with the unpaginated total.
	ListEvents(ctx context.Context, filter *EventFilter, page *Pagination) (*EventPage, error)

	// GetEvent returns one stored event by its row ID, or nil when no
	// such event exists.
	GetEvent(ctx context.Context, id int64) (*StoredEvent, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

type (
	// EventFilter narrows a ListEvents query. Zero-valued fields are
	// ignored.
	EventFilter struct {
		Source Source
		Region string

		// DateFrom/DateTo bound date_start inclusively.
		DateFrom *time.Time
		DateTo   *time.Time

		// IncludeCanceled keeps canceled events in the listing; by default
		// they are filtered out.
		IncludeCanceled bool
	}

	// Pagination bounds a ListEvents result set.
	Pagination struct {
		Limit  int
		Offset int
	}

	// EventPage is one page of a ListEvents result.
	EventPage struct {
		Events []StoredEvent
		Total  int
	}

	// StoredEvent is a persisted event row: the canonical record plus its
	// database identity.
	StoredEvent struct {
		ID int64
		CanonicalEvent
	}
)

// UpsertResult reports how a single event was resolved against the store.
type UpsertResult struct {
	// Event is the canonical event that was processed.
	Event *CanonicalEvent

	// Inserted is true when a new row was created.
	Inserted bool

	// Updated is true when an existing row was overwritten. Inserted and
	// Updated are mutually exclusive; both false means the event errored.
	Updated bool

	// Error holds the per-event failure, nil on success.
	Error error
}
