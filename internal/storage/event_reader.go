package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// Listing bounds applied when the caller does not paginate explicitly.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// EventReader is the PostgreSQL implementation of events.Reader. It
// serves the read-only HTTP API; writes go through EventStore.
type EventReader struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time check that EventReader satisfies the domain interface.
var _ events.Reader = (*EventReader)(nil)

// NewEventReader creates an EventReader on an established connection.
func NewEventReader(conn *Connection, logger *slog.Logger) *EventReader {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventReader{
		conn:   conn,
		logger: logger.With("component", "event_reader"),
	}
}

// eventColumns is the scan list shared by the list and detail queries.
// Order must match scanEvent.
const eventColumns = `
	id, source, ride_id, external_id,
	name, description, location, date_start, date_end, region,
	latitude, longitude,
	distances, judges,
	ride_manager, manager_email, manager_phone, manager_contact,
	website, flyer_url, map_link, directions, notes,
	has_intro_ride, is_canceled, is_verified, geocoding_attempted,
	event_details,
	created_at, updated_at`

// ListEvents returns a page of stored events matching the filter, newest
// date_start first, plus the unpaginated total.
func (r *EventReader) ListEvents(ctx context.Context, filter *events.EventFilter, page *events.Pagination) (*events.EventPage, error) {
	where, args := buildEventFilter(filter)
	limit, offset := clampPagination(page)

	var total int

	countQuery := `SELECT COUNT(*) FROM events` + where
	if err := r.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s FROM events%s ORDER BY date_start DESC, id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := r.conn.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := &events.EventPage{Total: total, Events: make([]events.StoredEvent, 0, limit)}

	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		result.Events = append(result.Events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return result, nil
}

// GetEvent returns one stored event by row ID, or nil when absent.
func (r *EventReader) GetEvent(ctx context.Context, id int64) (*events.StoredEvent, error) {
	row := r.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns), id,
	)

	event, err := scanEvent(row)

	switch {
	case err == nil:
		return event, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load event %d: %w", id, err)
	}
}

// HealthCheck verifies the backing database is reachable.
func (r *EventReader) HealthCheck(ctx context.Context) error {
	return r.conn.HealthCheck(ctx)
}

// buildEventFilter renders the WHERE clause and its arguments for a
// filter. A nil filter still excludes canceled events.
func buildEventFilter(filter *events.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	arg := func(v any) string {
		args = append(args, v)

		return fmt.Sprintf("$%d", len(args))
	}

	if filter == nil {
		filter = &events.EventFilter{}
	}

	if filter.Source != "" {
		clauses = append(clauses, "source = "+arg(filter.Source.String()))
	}

	if filter.Region != "" {
		clauses = append(clauses, "region = "+arg(filter.Region))
	}

	if filter.DateFrom != nil {
		clauses = append(clauses, "date_start >= "+arg(*filter.DateFrom))
	}

	if filter.DateTo != nil {
		clauses = append(clauses, "date_start <= "+arg(*filter.DateTo))
	}

	if !filter.IncludeCanceled {
		clauses = append(clauses, "is_canceled = FALSE")
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func clampPagination(page *events.Pagination) (int, int) {
	limit, offset := defaultListLimit, 0

	if page != nil {
		if page.Limit > 0 {
			limit = page.Limit
		}

		if page.Offset > 0 {
			offset = page.Offset
		}
	}

	if limit > maxListLimit {
		limit = maxListLimit
	}

	return limit, offset
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent hydrates one StoredEvent from a row produced with
// eventColumns. Nullable columns map back to zero values; derived
// scheduling flags are lifted out of event_details.
func scanEvent(row rowScanner) (*events.StoredEvent, error) {
	var (
		event events.StoredEvent

		source                                   string
		rideID, externalID                       sql.NullString
		description, location, region            sql.NullString
		dateEnd                                  sql.NullTime
		latitude, longitude                      sql.NullFloat64
		distances, judges                        []string
		rideManager, managerEmail, managerPhone  sql.NullString
		contactJSON, detailsJSON                 []byte
		website, flyerURL, mapLink               sql.NullString
		directions, notes                        sql.NullString
	)

	err := row.Scan(
		&event.ID, &source, &rideID, &externalID,
		&event.Name, &description, &location, &event.DateStart, &dateEnd, &region,
		&latitude, &longitude,
		pq.Array(&distances), pq.Array(&judges),
		&rideManager, &managerEmail, &managerPhone, &contactJSON,
		&website, &flyerURL, &mapLink, &directions, &notes,
		&event.HasIntroRide, &event.IsCanceled, &event.IsVerified, &event.GeocodeAttempt,
		&detailsJSON,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Source = events.Source(source)
	event.RideID = rideID.String
	event.ExternalID = externalID.String
	event.Description = description.String
	event.Location = location.String
	event.Region = region.String
	event.RideManager = rideManager.String
	event.ManagerEmail = managerEmail.String
	event.ManagerPhone = managerPhone.String
	event.Website = website.String
	event.FlyerURL = flyerURL.String
	event.MapLink = mapLink.String
	event.Directions = directions.String
	event.Notes = notes.String

	if dateEnd.Valid {
		event.DateEnd = dateEnd.Time
	}

	if latitude.Valid {
		v := latitude.Float64
		event.Latitude = &v
	}

	if longitude.Valid {
		v := longitude.Float64
		event.Longitude = &v
	}

	for _, text := range distances {
		event.Distances = append(event.Distances, events.Distance{Text: text})
	}

	for _, text := range judges {
		event.Judges = append(event.Judges, parseJudgeText(text))
	}

	if len(contactJSON) > 0 {
		var contact map[string]string
		if err := json.Unmarshal(contactJSON, &contact); err != nil {
			return nil, fmt.Errorf("failed to decode manager_contact: %w", err)
		}

		event.Contact = events.Contact{
			Name:  contact["name"],
			Email: contact["email"],
			Phone: contact["phone"],
		}
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.EventDetails); err != nil {
			return nil, fmt.Errorf("failed to decode event_details: %w", err)
		}

		liftDerivedFlags(&event)
	}

	return &event, nil
}

// liftDerivedFlags restores the scheduling flags stored inside
// event_details back onto the typed record.
func liftDerivedFlags(event *events.StoredEvent) {
	if v, ok := event.EventDetails["is_multi_day"].(bool); ok {
		event.IsMultiDay = v
	}

	if v, ok := event.EventDetails["is_pioneer"].(bool); ok {
		event.IsPioneer = v
	}

	if v, ok := event.EventDetails["ride_days"].(float64); ok {
		event.RideDays = int(v)
	}
}

// parseJudgeText inverts the "Name (Role)" rendering the writer uses for
// the judges column.
func parseJudgeText(text string) events.Judge {
	if open := strings.LastIndex(text, " ("); open > 0 && strings.HasSuffix(text, ")") {
		return events.Judge{
			Name: strings.TrimSpace(text[:open]),
			Role: strings.TrimSpace(text[open+2 : len(text)-1]),
		}
	}

	return events.Judge{Name: strings.TrimSpace(text)}
}
