package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/trailblaze-io/trailblaze/internal/api/middleware"
	"github.com/trailblaze-io/trailblaze/internal/events"
)

type (
	// eventListParams holds parsed query parameters for the event list.
	eventListParams struct {
		source          string
		region          string
		since           *time.Time
		until           *time.Time
		includeCanceled bool
		limit           int
		offset          int
	}

	// paramError represents a parameter validation error.
	paramError struct {
		param string
		msg   string
	}
)

const (
	// Pagination defaults and limits.
	defaultLimit = 20
	maxLimit     = 100
	minLimit     = 1

	// dateOnlyFormat accepts bare calendar days alongside RFC3339.
	dateOnlyFormat = "2006-01-02"
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// handleListEvents handles GET /api/v1/events.
// Returns a paginated list of events with optional filtering.
//
// Query Parameters:
//   - source: event source, e.g. "AERC"
//   - region: sanctioning region code, e.g. "MT"
//   - since: RFC3339 timestamp or YYYY-MM-DD (events starting on/after)
//   - until: RFC3339 timestamp or YYYY-MM-DD (events starting on/before)
//   - include_canceled: "true" to include canceled events (default: false)
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
//
// Response: EventListResponse with events sorted by date_start DESC.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	params, err := parseEventListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter := buildListFilter(params)
	pagination := &events.Pagination{
		Limit:  params.limit,
		Offset: params.offset,
	}

	page, err := s.reader.ListEvents(ctx, filter, pagination)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query events",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	summaries := make([]EventSummary, 0, len(page.Events))
	for i := range page.Events {
		summaries = append(summaries, mapEventToSummary(&page.Events[i]))
	}

	response := EventListResponse{
		Events: summaries,
		Total:  page.Total,
		Limit:  params.limit,
		Offset: params.offset,
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal events response",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseEventListParams parses and validates query parameters.
func parseEventListParams(r *http.Request) (*eventListParams, error) {
	q := r.URL.Query()

	params := &eventListParams{
		source: q.Get("source"),
		region: q.Get("region"),
		limit:  defaultLimit,
		offset: 0,
	}

	if since := q.Get("since"); since != "" {
		t, err := parseTimeParam(since)
		if err != nil {
			return nil, &paramError{param: "since", msg: "must be RFC3339 timestamp or YYYY-MM-DD"}
		}

		params.since = &t
	}

	if until := q.Get("until"); until != "" {
		t, err := parseTimeParam(until)
		if err != nil {
			return nil, &paramError{param: "until", msg: "must be RFC3339 timestamp or YYYY-MM-DD"}
		}

		params.until = &t
	}

	if raw := q.Get("include_canceled"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &paramError{param: "include_canceled", msg: "must be a boolean"}
		}

		params.includeCanceled = include
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, &paramError{param: "limit", msg: "must be a valid integer"}
		}

		if limit < minLimit || limit > maxLimit {
			return nil, &paramError{param: "limit", msg: "must be between 1 and 100"}
		}

		params.limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, &paramError{param: "offset", msg: "must be a valid integer"}
		}

		if offset < 0 {
			return nil, &paramError{param: "offset", msg: "must be >= 0"}
		}

		params.offset = offset
	}

	return params, nil
}

// parseTimeParam accepts either a full RFC3339 timestamp or a bare date.
func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	return time.Parse(dateOnlyFormat, raw)
}

// buildListFilter creates an events.EventFilter from parsed parameters.
func buildListFilter(params *eventListParams) *events.EventFilter {
	return &events.EventFilter{
		Source:          events.Source(params.source),
		Region:          params.region,
		DateFrom:        params.since,
		DateTo:          params.until,
		IncludeCanceled: params.includeCanceled,
	}
}

// mapEventToSummary converts a stored event to an API EventSummary.
func mapEventToSummary(ev *events.StoredEvent) EventSummary {
	return EventSummary{
		ID:           ev.ID,
		Source:       ev.Source.String(),
		RideID:       ev.RideID,
		Name:         ev.Name,
		DateStart:    ev.DateStart,
		DateEnd:      optionalTime(ev.DateEnd),
		Location:     ev.Location,
		Region:       ev.Region,
		Distances:    distanceTexts(ev.Distances),
		IsCanceled:   ev.IsCanceled,
		HasIntroRide: ev.HasIntroRide,
		IsMultiDay:   ev.IsMultiDay,
	}
}

// optionalTime maps the zero time to nil so it is omitted from JSON.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

// distanceTexts flattens distances to their display text.
func distanceTexts(distances []events.Distance) []string {
	if len(distances) == 0 {
		return nil
	}

	texts := make([]string, 0, len(distances))
	for _, d := range distances {
		texts = append(texts, d.Text)
	}

	return texts
}
