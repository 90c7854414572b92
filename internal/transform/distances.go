package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

var (
	leadingNumber = regexp.MustCompile(`^(\d+(?:\.\d+)?)`)
	unitMarker    = regexp.MustCompile(`(?i)\b(mi|mile|miles|km|kilometers?|intro)\b`)
)

// CanonicaliseDistance normalises one distance string: when a leading
// numeric is present and the text carries no unit marker, " miles" is
// appended. Non-numeric and already-unitted forms pass through verbatim.
func CanonicaliseDistance(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	if m := leadingNumber.FindString(text); m != "" && !unitMarker.MatchString(text) {
		// Strip any trailing junk after the number before appending the
		// unit, e.g. "50 " -> "50 miles".
		if strings.TrimSpace(text) == m {
			return m + " miles"
		}

		return fmt.Sprintf("%s miles", m)
	}

	return text
}

// DistanceMiles extracts the numeric mileage from a distance string.
// Returns ok=false for non-numeric forms. Kilometre values are converted.
func DistanceMiles(text string) (float64, bool) {
	m := leadingNumber.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}

	if strings.Contains(strings.ToLower(text), "km") {
		value *= 0.621371
	}

	return value, true
}

// IsIntroDistance reports whether a distance is an introductory class:
// either explicitly labelled intro or at most IntroRideMaxMiles miles.
func IsIntroDistance(text string) bool {
	if strings.Contains(strings.ToLower(text), "intro") {
		return true
	}

	if miles, ok := DistanceMiles(text); ok {
		return miles <= events.IntroRideMaxMiles
	}

	return false
}

// buildDistances converts raw distance entries into canonical Distance
// values. Accepts both the structured form ([{"distance": ..,
// "start_time": ..}]) and a bare string list.
func buildDistances(row events.RawRow) []events.Distance {
	var out []events.Distance

	if maps := row.Maps("distances"); len(maps) > 0 {
		for _, m := range maps {
			d := events.Distance{}

			if s, ok := m["distance"].(string); ok {
				d.Text = CanonicaliseDistance(s)
			}

			if s, ok := m["start_time"].(string); ok {
				d.StartTime = strings.TrimSpace(s)
			}

			if s, ok := m["date"].(string); ok {
				if t, err := events.ParseEventDate(strings.TrimSpace(s)); err == nil {
					d.Date = t
				}
			}

			if d.Text != "" {
				out = append(out, d)
			}
		}

		return out
	}

	for _, s := range row.Strings("distances") {
		if text := CanonicaliseDistance(s); text != "" {
			out = append(out, events.Distance{Text: text})
		}
	}

	return out
}

// duplicateDistanceCount returns how many entries share the most common
// numeric value, e.g. "50, 50, 50" yields 3. Multi-day events list the
// same distance once per day, so duplicates signal a multi-day ride.
func duplicateDistanceCount(distances []events.Distance) int {
	counts := make(map[float64]int, len(distances))
	top := 0

	for _, d := range distances {
		if miles, ok := DistanceMiles(d.Text); ok {
			counts[miles]++
			if counts[miles] > top {
				top = counts[miles]
			}
		}
	}

	return top
}
