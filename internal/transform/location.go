package transform

import (
	"regexp"
	"strings"
)

// Location is the structured result of parsing a free-form location
// string.
type Location struct {
	Venue   string
	City    string
	State   string
	Country string
}

// canadianProvinces is the closed set of province codes that flips the
// inferred country to Canada.
var canadianProvinces = map[string]string{
	"AB": "Alberta",
	"BC": "British Columbia",
	"MB": "Manitoba",
	"NB": "New Brunswick",
	"NL": "Newfoundland and Labrador",
	"NS": "Nova Scotia",
	"NT": "Northwest Territories",
	"NU": "Nunavut",
	"ON": "Ontario",
	"PE": "Prince Edward Island",
	"QC": "Quebec",
	"SK": "Saskatchewan",
	"YT": "Yukon",
}

// usStates maps full US state names (uppercased) to their two-letter
// codes, used to normalise spelled-out states.
var usStates = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID",
	"ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS",
	"KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS",
	"MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK",
	"OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT",
	"VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY",
}

var cancelledMarker = regexp.MustCompile(`(?i)\*+\s*cancell?ed\s*\*+`)

// ParseLocation interprets a free-form location string. Patterns are
// tried in order:
//
//  1. "<venue> - <city>, <state>" — venue split off, remainder re-parsed.
//  2. "<city>, <state>, <country>"
//  3. "<city>, <state>" — country inferred from the province set.
//  4. single token — treated as city, country defaults to USA.
//
// Full US state and Canadian province names are normalised to their
// two-letter codes. Country is always populated.
func ParseLocation(raw string) Location {
	loc := Location{Country: "USA"}

	s := strings.TrimSpace(cancelledMarker.ReplaceAllString(raw, ""))
	if s == "" {
		return loc
	}

	// Pattern 1: a " - " separator marks a venue prefix.
	if idx := strings.Index(s, " - "); idx != -1 {
		venue := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(s[idx+3:])

		if venue != "" && rest != "" && strings.Contains(rest, ",") {
			inner := ParseLocation(rest)
			inner.Venue = venue

			return inner
		}
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch len(parts) {
	case 1:
		loc.City = parts[0]
	case 2:
		loc.City = parts[0]
		loc.State = normaliseState(parts[1], &loc)
	default:
		// "<city>, <state>, <country>" — trailing token is the country
		// when it names one; otherwise treat the last two tokens as
		// state and keep everything before as the city.
		last := parts[len(parts)-1]
		if isCountry(last) {
			loc.Country = canonicalCountry(last)
			loc.City = strings.Join(parts[:len(parts)-2], ", ")
			loc.State = normaliseState(parts[len(parts)-2], &loc)
		} else {
			loc.City = strings.Join(parts[:len(parts)-1], ", ")
			loc.State = normaliseState(last, &loc)
		}
	}

	if _, canadian := canadianProvinces[loc.State]; canadian {
		loc.Country = "Canada"
	}

	return loc
}

// normaliseState reduces a state/province token to a two-letter code
// where possible, flipping the country when the token names a Canadian
// province. Tokens like "BC Canada" carry an explicit trailing country.
func normaliseState(token string, loc *Location) string {
	token = strings.TrimSpace(token)

	if fields := strings.Fields(token); len(fields) == 2 && isCountry(fields[1]) {
		loc.Country = canonicalCountry(fields[1])
		token = fields[0]
	}

	upper := strings.ToUpper(token)

	if len(upper) == 2 {
		return upper
	}

	if code, ok := usStates[upper]; ok {
		return code
	}

	for code, name := range canadianProvinces {
		if strings.EqualFold(name, token) {
			loc.Country = "Canada"

			return code
		}
	}

	return token
}

func isCountry(token string) bool {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "USA", "US", "UNITED STATES", "CANADA":
		return true
	default:
		return false
	}
}

func canonicalCountry(token string) string {
	if strings.EqualFold(strings.TrimSpace(token), "canada") {
		return "Canada"
	}

	return "USA"
}
