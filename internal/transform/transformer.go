// Package transform produces canonical events from validated raw rows.
//
// The Transformer is the single place where untyped source shapes are
// inspected; everything downstream consumes the strongly-typed
// events.CanonicalEvent. Key algorithms: free-form location parsing,
// date parsing, multi-day and pioneer inference, distance
// canonicalisation, and contact consolidation.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// ErrTransformFailed indicates a validated row could not be shaped into
// a canonical event. Per-row; the row is dropped and the run continues.
var ErrTransformFailed = errors.New("transform failed")

// multiDayKeywords in an event name imply a multi-day ride. "pioneer"
// additionally implies a pioneer ride.
var multiDayKeywords = []string{"day", "days", "pioneer", "multi"}

type (
	// Metrics are the transformation counters accumulated over a run.
	Metrics struct {
		Transformed int `json:"transformed"`
		Errors      int `json:"errors"`
	}

	// Transformer shapes raw rows for one source.
	Transformer struct {
		source events.Source
		logger *slog.Logger

		mu      sync.Mutex
		metrics Metrics
	}
)

// New creates a Transformer for a source.
func New(source events.Source, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transformer{
		source: source,
		logger: logger.With("component", "transformer"),
	}
}

// TransformAll shapes every row, dropping rows that fail with a WARN
// log. Output order follows input order.
func (t *Transformer) TransformAll(rows []events.RawRow) []*events.CanonicalEvent {
	out := make([]*events.CanonicalEvent, 0, len(rows))

	for i, row := range rows {
		event, err := t.Transform(row)
		if err != nil {
			t.count(func(m *Metrics) { m.Errors++ })
			t.logger.Warn("dropping row", "index", i, "name", row.String("name"), "error", err)

			continue
		}

		out = append(out, event)
	}

	return out
}

// Transform produces one canonical event from a validated raw row.
func (t *Transformer) Transform(row events.RawRow) (*events.CanonicalEvent, error) {
	if row == nil {
		return nil, fmt.Errorf("%w: nil row", ErrTransformFailed)
	}

	name := row.String("name")
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrTransformFailed)
	}

	dateStart, err := events.ResolveStartDate(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}

	dateEnd := dateStart

	if row.Has("date_end") {
		if parsed, endErr := events.ParseEventDate(row.String("date_end")); endErr == nil {
			dateEnd = parsed
		}
	}

	if dateEnd.Before(dateStart) {
		dateEnd = dateStart
	}

	event := &events.CanonicalEvent{
		Source:      t.source,
		ExternalID:  row.String("external_id"),
		RideID:      row.String("ride_id"),
		Name:        name,
		DateStart:   dateStart,
		DateEnd:     dateEnd,
		Location:    row.String("location"),
		Region:      row.String("region"),
		IsCanceled:  row.Bool("is_canceled"),
		Website:     row.String("website"),
		FlyerURL:    row.String("flyer_url"),
		MapLink:     row.String("map_link"),
		Directions:  row.String("directions"),
		Notes:       row.String("notes"),
		Description: clampDescription(row.String("description")),
		RideDays:    1,
	}

	t.applyLocation(event, row)
	event.Distances = buildDistances(row)
	t.applyMultiDayFlags(event)
	t.applyIntroFlag(event, row)
	t.applyContacts(event, row)
	t.applyJudges(event, row)
	t.applyDetails(event, row)

	t.count(func(m *Metrics) { m.Transformed++ })

	return event, nil
}

// applyLocation fills structured location fields, preferring explicit
// row keys over re-parsing the free-form string.
func (t *Transformer) applyLocation(event *events.CanonicalEvent, row events.RawRow) {
	parsed := ParseLocation(event.Location)

	event.City = firstNonEmpty(row.String("city"), parsed.City)
	event.State = firstNonEmpty(strings.ToUpper(row.String("state")), parsed.State)
	event.Country = firstNonEmpty(row.String("country"), parsed.Country)

	if _, canadian := canadianProvinces[event.State]; canadian {
		event.Country = "Canada"
	}

	if coords := row.Map("coordinates"); coords != nil {
		if lat, ok := coords["latitude"].(float64); ok {
			event.Latitude = &lat
		}

		if lon, ok := coords["longitude"].(float64); ok {
			event.Longitude = &lon
		}
	}
}

// applyMultiDayFlags derives is_multi_day, is_pioneer, and ride_days
// from the date span, the event name, and duplicate distance values.
func (t *Transformer) applyMultiDayFlags(event *events.CanonicalEvent) {
	if event.DateEnd.After(event.DateStart) {
		event.IsMultiDay = true
		event.RideDays = daysBetween(event.DateStart, event.DateEnd) + 1
	}

	lowerName := strings.ToLower(event.Name)

	for _, keyword := range multiDayKeywords {
		if containsWord(lowerName, keyword) {
			event.IsMultiDay = true

			break
		}
	}

	if dup := duplicateDistanceCount(event.Distances); dup >= 2 {
		event.IsMultiDay = true

		if len(event.Distances) > event.RideDays {
			event.RideDays = len(event.Distances)
		}
	}

	if strings.Contains(lowerName, "pioneer") {
		event.IsPioneer = true

		if event.RideDays < 3 {
			event.RideDays = 3
		}
	}

	// A multi-day span of three or more days at one venue is a pioneer
	// ride by definition.
	if event.IsMultiDay && event.RideDays >= 3 {
		event.IsPioneer = true
	}

	if !event.IsMultiDay {
		event.RideDays = 1
	}
}

// applyIntroFlag sets has_intro_ride from an explicit marker or from the
// distance list.
func (t *Transformer) applyIntroFlag(event *events.CanonicalEvent, row events.RawRow) {
	if row.Bool("has_intro_ride") {
		event.HasIntroRide = true

		return
	}

	for _, d := range event.Distances {
		if IsIntroDistance(d.Text) {
			event.HasIntroRide = true

			return
		}
	}
}

// applyContacts consolidates the flat manager fields with the structured
// contact block. The block is always emitted; the flat fields and the
// block mirror each other after consolidation.
func (t *Transformer) applyContacts(event *events.CanonicalEvent, row events.RawRow) {
	event.RideManager = row.String("ride_manager")
	event.ManagerEmail = row.String("manager_email")
	event.ManagerPhone = row.String("manager_phone")

	if contact := row.Map("ride_manager_contact"); contact != nil {
		if s, ok := contact["name"].(string); ok && event.RideManager == "" {
			event.RideManager = strings.TrimSpace(s)
		}

		if s, ok := contact["email"].(string); ok && event.ManagerEmail == "" {
			event.ManagerEmail = strings.TrimSpace(s)
		}

		if s, ok := contact["phone"].(string); ok && event.ManagerPhone == "" {
			event.ManagerPhone = strings.TrimSpace(s)
		}
	}

	event.Contact = events.Contact{
		Name:  event.RideManager,
		Email: event.ManagerEmail,
		Phone: event.ManagerPhone,
	}
}

// applyJudges collects control judges and other officials.
func (t *Transformer) applyJudges(event *events.CanonicalEvent, row events.RawRow) {
	for _, m := range row.Maps("control_judges") {
		judge := events.Judge{}

		if s, ok := m["name"].(string); ok {
			judge.Name = strings.TrimSpace(s)
		}

		if s, ok := m["role"].(string); ok {
			judge.Role = strings.TrimSpace(s)
		}

		if judge.Name != "" {
			event.Judges = append(event.Judges, judge)
		}
	}
}

// applyDetails fills the event_details bag with structured data not
// promoted to a column.
func (t *Transformer) applyDetails(event *events.CanonicalEvent, row events.RawRow) {
	details := make(map[string]any)

	if event.Latitude != nil && event.Longitude != nil {
		details["coordinates"] = map[string]any{
			"latitude":  *event.Latitude,
			"longitude": *event.Longitude,
		}
	}

	if len(event.Judges) > 0 {
		judges := make([]map[string]any, 0, len(event.Judges))
		for _, j := range event.Judges {
			judges = append(judges, map[string]any{"name": j.Name, "role": j.Role})
		}

		details["control_judges"] = judges
	}

	details["location_details"] = map[string]any{
		"city":    event.City,
		"state":   event.State,
		"country": event.Country,
	}

	if extra := row.Map("event_details"); extra != nil {
		for k, v := range extra {
			details[k] = v
		}
	}

	event.EventDetails = details
}

// Metrics returns a snapshot of the transformation counters.
func (t *Transformer) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.metrics
}

func (t *Transformer) count(fn func(*Metrics)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.metrics)
}

// clampDescription truncates a description to MaxDescriptionLength,
// suffixing an ellipsis when text was dropped. The cut backs up to a
// rune boundary so a multi-byte character is never split.
func clampDescription(s string) string {
	if len(s) <= events.MaxDescriptionLength {
		return s
	}

	cut := events.MaxDescriptionLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "…"
}

// daysBetween counts whole days between two timestamps' calendar days.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)

	return int(b.Sub(a).Hours() / 24)
}

// containsWord reports whether lowered contains keyword as a whole word.
// Guards against "Sunday" matching "day".
func containsWord(lowered, keyword string) bool {
	idx := 0

	for {
		pos := strings.Index(lowered[idx:], keyword)
		if pos == -1 {
			return false
		}

		start := idx + pos
		end := start + len(keyword)

		beforeOK := start == 0 || !isLetter(lowered[start-1])
		afterOK := end == len(lowered) || !isLetter(lowered[end])

		if beforeOK && afterOK {
			return true
		}

		idx = end
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	return ""
}
