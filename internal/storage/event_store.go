package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

var (
	// ErrNilEvent is returned when a nil event is passed to the store.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrInvalidSource is returned when an event carries an unknown source.
	ErrInvalidSource = errors.New("invalid event source")
)

// EventStore is the PostgreSQL implementation of events.Store.
//
// Each event is reconciled in its own short transaction: match on
// (source, ride_id) when the source assigned an identifier, fall back to
// (source, name, date_start::date), insert when neither matches. Updates
// overwrite columns only with non-null incoming values and merge
// event_details shallowly via the jsonb || operator.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time check that EventStore satisfies the domain interface.
var _ events.Store = (*EventStore)(nil)

// NewEventStore creates an EventStore on an established connection.
func NewEventStore(conn *Connection, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventStore{
		conn:   conn,
		logger: logger.With("component", "event_store"),
	}
}

// UpsertEvent reconciles a single canonical event against the store.
func (s *EventStore) UpsertEvent(ctx context.Context, event *events.CanonicalEvent) (*events.UpsertResult, error) {
	if event == nil {
		return nil, ErrNilEvent
	}

	if !event.Source.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, event.Source)
	}

	result := &events.UpsertResult{Event: event}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	id, err := s.findExisting(ctx, tx, event)
	if err != nil {
		return nil, err
	}

	if id == 0 {
		if err := s.insert(ctx, tx, event); err != nil {
			return nil, err
		}

		result.Inserted = true
	} else {
		if err := s.update(ctx, tx, id, event); err != nil {
			return nil, err
		}

		result.Updated = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// UpsertEvents reconciles a batch in input order. Per-event failures are
// recorded in the result slice; the batch error is reserved for lost
// connections and cancellation, both of which abort the remainder.
func (s *EventStore) UpsertEvents(ctx context.Context, batch []*events.CanonicalEvent) ([]*events.UpsertResult, error) {
	results := make([]*events.UpsertResult, 0, len(batch))

	for _, event := range batch {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := s.UpsertEvent(ctx, event)
		if err != nil {
			if isDatabaseConnectionError(err) {
				return results, fmt.Errorf("database connection lost during batch: %w", err)
			}

			name := ""
			if event != nil {
				name = event.Name
			}

			s.logger.Warn("event upsert failed", "name", name, "error", err)
			results = append(results, &events.UpsertResult{Event: event, Error: err})

			continue
		}

		results = append(results, result)
	}

	return results, nil
}

// CountBySource returns the number of stored rows for a source.
func (s *EventStore) CountBySource(ctx context.Context, source events.Source) (int, error) {
	var count int

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE source = $1`, source.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events for source %s: %w", source, err)
	}

	return count, nil
}

// HealthCheck verifies the backing database is reachable.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// findExisting resolves the stored row an event should reconcile with,
// returning 0 when no row matches. The matched row is locked for the
// duration of the transaction.
func (s *EventStore) findExisting(ctx context.Context, tx *sql.Tx, event *events.CanonicalEvent) (int64, error) {
	var id int64

	if event.RideID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM events WHERE source = $1 AND ride_id = $2 FOR UPDATE`,
			event.Source.String(), event.RideID,
		).Scan(&id)

		switch {
		case err == nil:
			return id, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("ride_id lookup failed: %w", err)
		}
	}

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM events
		 WHERE source = $1 AND name = $2 AND date_start::date = $3::date
		 FOR UPDATE`,
		event.Source.String(), event.Name, event.DateStart,
	).Scan(&id)

	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("name/date lookup failed: %w", err)
	}
}

func (s *EventStore) insert(ctx context.Context, tx *sql.Tx, event *events.CanonicalEvent) error {
	detailsJSON, contactJSON, err := encodeJSONColumns(event)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (
			source, ride_id, external_id,
			name, description, location, date_start, date_end,
			region, organizer, event_type,
			latitude, longitude,
			distances, judges,
			ride_manager, manager_email, manager_phone, manager_contact,
			website, flyer_url, map_link, directions, notes,
			has_intro_ride, is_canceled, is_verified, geocoding_attempted,
			event_details,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''),
			$4, $5, $6, $7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23, $24,
			$25, $26, FALSE, $27,
			$28,
			NOW(), NOW()
		)`,
		event.Source.String(), event.RideID, event.ExternalID,
		event.Name, event.Description, event.Location, event.DateStart, event.DateEnd,
		event.Region, event.RideManager, eventType,
		nullFloat(event.Latitude), nullFloat(event.Longitude),
		pq.Array(distanceTexts(event)), pq.Array(judgeTexts(event)),
		event.RideManager, event.ManagerEmail, event.ManagerPhone, contactJSON,
		event.Website, event.FlyerURL, event.MapLink, event.Directions, event.Notes,
		event.HasIntroRide, event.IsCanceled, event.GeocodeAttempt,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// update overwrites columns with non-null incoming values. Empty strings
// and empty arrays are treated as null so a sparse re-scrape never clears
// data a richer run stored. is_verified is insert-only;
// geocoding_attempted latches once any run attempts a lookup;
// event_details merges shallowly, incoming keys winning.
func (s *EventStore) update(ctx context.Context, tx *sql.Tx, id int64, event *events.CanonicalEvent) error {
	detailsJSON, contactJSON, err := encodeJSONColumns(event)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE events SET
			ride_id       = COALESCE(NULLIF($2, ''), ride_id),
			external_id   = COALESCE(NULLIF($3, ''), external_id),
			name          = COALESCE(NULLIF($4, ''), name),
			description   = COALESCE(NULLIF($5, ''), description),
			location      = COALESCE(NULLIF($6, ''), location),
			date_start    = $7,
			date_end      = $8,
			region        = COALESCE(NULLIF($9, ''), region),
			organizer     = COALESCE(NULLIF($10, ''), organizer),
			latitude      = COALESCE($11, latitude),
			longitude     = COALESCE($12, longitude),
			distances     = COALESCE($13, distances),
			judges        = COALESCE($14, judges),
			ride_manager  = COALESCE(NULLIF($15, ''), ride_manager),
			manager_email = COALESCE(NULLIF($16, ''), manager_email),
			manager_phone = COALESCE(NULLIF($17, ''), manager_phone),
			manager_contact = COALESCE($18, manager_contact),
			website       = COALESCE(NULLIF($19, ''), website),
			flyer_url     = COALESCE(NULLIF($20, ''), flyer_url),
			map_link      = COALESCE(NULLIF($21, ''), map_link),
			directions    = COALESCE(NULLIF($22, ''), directions),
			notes         = COALESCE(NULLIF($23, ''), notes),
			has_intro_ride = $24,
			is_canceled    = $25,
			event_details  = COALESCE(event_details, '{}'::jsonb) || $26::jsonb,
			geocoding_attempted = geocoding_attempted OR $27,
			updated_at     = NOW()
		WHERE id = $1`,
		id,
		event.RideID, event.ExternalID,
		event.Name, event.Description, event.Location,
		event.DateStart, event.DateEnd,
		event.Region, event.RideManager,
		nullFloat(event.Latitude), nullFloat(event.Longitude),
		nullArray(distanceTexts(event)), nullArray(judgeTexts(event)),
		event.RideManager, event.ManagerEmail, event.ManagerPhone, contactJSON,
		event.Website, event.FlyerURL, event.MapLink, event.Directions, event.Notes,
		event.HasIntroRide, event.IsCanceled,
		detailsJSON, event.GeocodeAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	return nil
}

// eventType is fixed for now; every ingested calendar is an endurance
// calendar.
const eventType = "endurance"

// encodeJSONColumns renders the event_details and manager_contact jsonb
// payloads. Derived scheduling flags live in event_details rather than
// dedicated columns.
func encodeJSONColumns(event *events.CanonicalEvent) ([]byte, []byte, error) {
	details := make(map[string]any, len(event.EventDetails)+3)
	for k, v := range event.EventDetails {
		details[k] = v
	}

	details["is_multi_day"] = event.IsMultiDay
	details["is_pioneer"] = event.IsPioneer
	details["ride_days"] = event.RideDays

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode event_details: %w", err)
	}

	contactJSON, err := json.Marshal(map[string]string{
		"name":  event.Contact.Name,
		"email": event.Contact.Email,
		"phone": event.Contact.Phone,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode manager_contact: %w", err)
	}

	return detailsJSON, contactJSON, nil
}

// distanceTexts flattens the distance list to its canonical text forms
// for the distances column. Per-day dates and start times stay in
// event_details.
func distanceTexts(event *events.CanonicalEvent) []string {
	out := make([]string, 0, len(event.Distances))
	for _, d := range event.Distances {
		out = append(out, d.Text)
	}

	return out
}

// judgeTexts renders officials as "Name (Role)" strings for the judges
// column. The structured list stays in event_details.
func judgeTexts(event *events.CanonicalEvent) []string {
	out := make([]string, 0, len(event.Judges))

	for _, j := range event.Judges {
		if j.Role != "" {
			out = append(out, fmt.Sprintf("%s (%s)", j.Name, j.Role))
		} else {
			out = append(out, j.Name)
		}
	}

	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *v, Valid: true}
}

// nullArray maps an empty slice to SQL NULL so COALESCE keeps the stored
// array.
func nullArray(values []string) any {
	if len(values) == 0 {
		return nil
	}

	return pq.Array(values)
}

// isDatabaseConnectionError reports whether an error indicates the
// database connection is lost, as opposed to a statement-level failure.
func isDatabaseConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 - Connection Exception
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
