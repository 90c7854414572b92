// Package events provides pre-transformation validation of raw rows.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for validation failures.
var (
	ErrNilRow          = errors.New("row cannot be nil")
	ErrMissingName     = errors.New("name is required")
	ErrMissingDate     = errors.New("date_start is required")
	ErrMissingLocation = errors.New("location is required")
	ErrBadDateFormat   = errors.New("date_start is not a recognised date")
	ErrShape           = errors.New("row has an unusable shape")
)

// ValidationKind labels the reason a row was dropped. Kinds feed the
// per-run validation_errors_by_kind counters.
type ValidationKind string

const (
	KindMissingName     ValidationKind = "missing_name"
	KindMissingDate     ValidationKind = "missing_date"
	KindMissingLocation ValidationKind = "missing_location"
	KindBadDateFormat   ValidationKind = "bad_date_format"
	KindShapeError      ValidationKind = "shape_error"
)

// eventDateLayouts are the date shapes sources publish, tried in order.
var eventDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseEventDate parses a source-published date string. Accepts ISO
// YYYY-MM-DD, MM/DD/YYYY (two- or four-digit year), and textual month
// forms. Returns the parsed day at midnight UTC.
func ParseEventDate(s string) (time.Time, error) {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDateFormat, s)
}

// ResolveStartDate parses a row's start date. When date_start does not
// parse, the legacy date key is tried before the row is given up on;
// the returned error names the date_start value either way.
func ResolveStartDate(row RawRow) (time.Time, error) {
	t, err := ParseEventDate(row.String("date_start"))
	if err == nil {
		return t, nil
	}

	if fallback := row.String("date"); fallback != "" {
		if ft, fallbackErr := ParseEventDate(fallback); fallbackErr == nil {
			return ft, nil
		}
	}

	return time.Time{}, err
}

// Validator enforces the required-field invariants on raw rows before
// the expensive transformation stage. Rows failing validation are
// dropped by the caller with the returned kind recorded; the validator
// never mutates a row.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a raw row against the required-field invariants:
// name, date_start, and location must be present, and date_start must
// parse as a date. Returns the kind labelling the first violation.
func (v *Validator) Validate(row RawRow) (ValidationKind, error) {
	if row == nil {
		return KindShapeError, ErrNilRow
	}

	if !row.Has("name") {
		return KindMissingName, ErrMissingName
	}

	if row.String("name") == "" {
		// Present but not a string: the extractor produced garbage.
		return KindShapeError, fmt.Errorf("%w: name is not a string", ErrShape)
	}

	if !row.Has("date_start") {
		return KindMissingDate, ErrMissingDate
	}

	if !row.Has("location") {
		return KindMissingLocation, ErrMissingLocation
	}

	date := row.String("date_start")
	if date == "" {
		return KindShapeError, fmt.Errorf("%w: date_start is not a string", ErrShape)
	}

	if _, err := ResolveStartDate(row); err != nil {
		return KindBadDateFormat, err
	}

	return "", nil
}
