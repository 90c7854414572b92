// Package events provides the domain model for endurance-ride event
// ingestion: the untyped row shape produced by extraction, the canonical
// event record produced by transformation, and the persistence interface
// the pipeline writes through.
package events

import (
	"strings"
	"time"
)

type (
	// Source identifies the calendar a record was ingested from.
	Source string

	// RawRow is the untyped field map produced by the Extractor for a
	// single event candidate. Keys are source-defined; values are strings,
	// nested maps, or lists. RawRow is the inter-stage currency between
	// extraction and transformation; the Transformer is the only component
	// that inspects unknown shapes. Downstream code uses CanonicalEvent.
	RawRow map[string]any

	// Distance is one ride distance offered by an event.
	//
	// Text is canonicalised to "<N> miles" when a numeric value is
	// extractable and the source text carried no unit marker. Non-numeric
	// source text is preserved verbatim.
	Distance struct {
		// Text is the distance as displayed, e.g. "50 miles", "25 km", "intro".
		Text string

		// Date is the calendar day this distance runs on (multi-day events
		// run different distances on different days). Zero when unknown.
		Date time.Time

		// StartTime is the free-form start time, e.g. "07:00 am". Empty
		// when the source did not publish one.
		StartTime string
	}

	// Judge is a named official attached to an event.
	Judge struct {
		Name string
		Role string
	}

	// Contact is the structured ride-manager contact block. Unknown
	// fields are empty strings; the block itself is always present on a
	// transformed event.
	Contact struct {
		Name  string
		Email string
		Phone string
	}

	// CanonicalEvent is the normalised, source-agnostic event record
	// produced by the Transformer and reconciled against the store by the
	// Upserter. It is created once per pipeline run and never mutated
	// after upsert resolution; each run re-derives it from source data.
	CanonicalEvent struct {
		// Identity
		Source     Source
		ExternalID string // source-assigned opaque identifier, may be empty
		RideID     string // source-assigned event identifier, may be empty

		// Core
		Name      string
		DateStart time.Time
		DateEnd   time.Time
		Location  string
		Region    string

		// Structured location. Country defaults to "USA"; "Canada" is
		// inferred from the closed province-code set.
		City      string
		State     string
		Country   string
		Latitude  *float64
		Longitude *float64

		// Distances in source order.
		Distances []Distance

		// Flags
		IsCanceled     bool
		IsVerified     bool
		HasIntroRide   bool
		IsMultiDay     bool
		IsPioneer      bool
		RideDays       int
		GeocodeAttempt bool

		// Contacts
		RideManager  string
		ManagerEmail string
		ManagerPhone string
		Contact      Contact

		// References
		Website     string
		FlyerURL    string
		MapLink     string
		Directions  string
		Judges      []Judge
		Description string
		Notes       string

		// EventDetails carries structured data not promoted to a column:
		// coordinates, location details, control judges, sanctioning flags.
		// The store merges it shallowly on update.
		EventDetails map[string]any

		// Audit
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

const (
	// SourceAERC is the American Endurance Ride Conference calendar.
	SourceAERC Source = "AERC"

	// SourcePNER is the Pacific Northwest Endurance Rides calendar.
	SourcePNER Source = "PNER"

	// SourceFacebook covers events ingested from Facebook pages.
	SourceFacebook Source = "FACEBOOK"

	// SourceManual marks hand-entered records.
	SourceManual Source = "MANUAL"
)

// IntroRideMaxMiles is the distance at or below which a ride class is
// considered introductory.
const IntroRideMaxMiles = 15.0

// MaxDescriptionLength is the clamp applied to event descriptions; longer
// text is truncated with a trailing ellipsis.
const MaxDescriptionLength = 2000

// ValidSources returns all recognised event sources.
func ValidSources() []Source {
	return []Source{SourceAERC, SourcePNER, SourceFacebook, SourceManual}
}

// IsValid checks whether the Source is a recognised enum value.
func (s Source) IsValid() bool {
	for _, valid := range ValidSources() {
		if s == valid {
			return true
		}
	}

	return false
}

// String returns the string representation of the Source.
func (s Source) String() string {
	return string(s)
}

// String returns the row's value for key as a trimmed string.
// Non-string values and absent keys yield "".
func (r RawRow) String(key string) string {
	if v, ok := r[key].(string); ok {
		return strings.TrimSpace(v)
	}

	return ""
}

// Strings returns the row's value for key as a string slice. Accepts
// either []string or []any with string elements; anything else yields nil.
func (r RawRow) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, strings.TrimSpace(s))
			}
		}

		return out
	}

	return nil
}

// Map returns the row's value for key as a nested map, or nil.
func (r RawRow) Map(key string) map[string]any {
	if v, ok := r[key].(map[string]any); ok {
		return v
	}

	return nil
}

// Maps returns the row's value for key as a list of nested maps.
// Non-map elements are skipped.
func (r RawRow) Maps(key string) []map[string]any {
	items, ok := r[key].([]any)
	if !ok {
		if typed, tok := r[key].([]map[string]any); tok {
			return typed
		}

		return nil
	}

	out := make([]map[string]any, 0, len(items))

	for _, item := range items {
		if m, mok := item.(map[string]any); mok {
			out = append(out, m)
		}
	}

	return out
}

// Bool returns the row's value for key as a bool; absent or mistyped
// values yield false.
func (r RawRow) Bool(key string) bool {
	v, ok := r[key].(bool)

	return ok && v
}

// Has reports whether the row carries a non-empty value for key.
func (r RawRow) Has(key string) bool {
	switch v := r[key].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}
