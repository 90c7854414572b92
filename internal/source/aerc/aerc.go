// Package aerc implements the source driver for the AERC ride calendar.
//
// The calendar is a WordPress page whose event list is produced by an
// admin-ajax form handler. Fetching is two requests: scrape the season
// identifiers from the calendar page, then POST the calendar form to get
// the full listing. The listing is one div.calendarRow per event;
// ExtractRow carries the structural selectors for that markup.
package aerc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/fetcher"
	"github.com/trailblaze-io/trailblaze/internal/source"
)

const (
	defaultCalendarURL = "https://aerc.org/calendar"
	defaultAjaxURL     = "https://aerc.org/wp-admin/admin-ajax.php"

	// maxSeasons bounds the season[] values submitted: the current and
	// the next season cover every published event.
	maxSeasons = 2
)

// ErrNoSeasons is returned when the calendar page carries no season
// inputs, which means the page layout changed.
var ErrNoSeasons = errors.New("no season identifiers found on calendar page")

var (
	cancelledPattern = regexp.MustCompile(`(?i)\*+\s*cancell?ed\s*\*+`)
	ridePattern      = regexp.MustCompile(`(?:RM|Ride Manager|RideManager)\s*:?\s+([^,\n<]+)`)
	emailPattern     = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	phonePattern     = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	judgePattern     = regexp.MustCompile(`(?i)(Head Control Judge|Control Judge|Vet Judge|Technical Delegate|Steward)\s*:\s*([^,\n<]+)`)
	datePattern      = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	schedulePattern  = regexp.MustCompile(`(?i)on\s+(\d{1,2}/\d{1,2}/\d{4})\s+starting at\s+([\d:]+\s*[ap]m)`)

	// Google Maps links encode coordinates three ways.
	coordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[?&]q=(-?\d+\.?\d*),(-?\d+\.?\d*)`),
		regexp.MustCompile(`@(-?\d+\.?\d*),(-?\d+\.?\d*)`),
		regexp.MustCompile(`destination=(-?\d+\.?\d*),(-?\d+\.?\d*)`),
	}
)

// Driver ingests the AERC calendar.
type Driver struct {
	calendarURL string
	ajaxURL     string
}

var _ source.Driver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithEndpoints overrides the calendar endpoints. Used by tests.
func WithEndpoints(calendarURL, ajaxURL string) Option {
	return func(d *Driver) {
		d.calendarURL = calendarURL
		d.ajaxURL = ajaxURL
	}
}

// New creates the AERC driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		calendarURL: defaultCalendarURL,
		ajaxURL:     defaultAjaxURL,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Source identifies this driver's calendar.
func (d *Driver) Source() events.Source {
	return events.SourceAERC
}

// CacheKey is the stable key for the raw calendar payload.
func (d *Driver) CacheKey() string {
	return "aerc_calendar"
}

// RowSelector matches one calendar row.
func (d *Driver) RowSelector() string {
	return "div.calendarRow"
}

// FetchPayload scrapes the season identifiers from the calendar page and
// POSTs the calendar form. The response may be raw HTML or a JSON
// envelope; the Cleaner handles both.
func (d *Driver) FetchPayload(ctx context.Context, client *fetcher.Client) ([]byte, error) {
	page, err := client.Get(ctx, d.calendarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar page: %w", err)
	}

	seasons, err := parseSeasons(page)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("action", "aerc_calendar_form")
	form.Set("calendar", "calendar")
	form.Add("country[]", "United States")
	form.Add("country[]", "Canada")
	form.Add("span[]", "#cal-span-season")
	form.Add("distance[]", "any")

	for _, season := range seasons {
		form.Add("season[]", season)
	}

	payload, err := client.PostForm(ctx, d.ajaxURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar listing: %w", err)
	}

	return payload, nil
}

// parseSeasons extracts the hidden season identifiers from the calendar
// page, keeping the first maxSeasons.
func parseSeasons(page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar page: %w", err)
	}

	var seasons []string

	doc.Find(`input[name="season[]"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if value, ok := sel.Attr("value"); ok && strings.TrimSpace(value) != "" {
			seasons = append(seasons, strings.TrimSpace(value))
		}

		return len(seasons) < maxSeasons
	})

	if len(seasons) == 0 {
		return nil, ErrNoSeasons
	}

	return seasons, nil
}

// ExtractRow builds a RawRow from one div.calendarRow. Rows with no ride
// name are skipped.
func (d *Driver) ExtractRow(row *goquery.Selection) (events.RawRow, error) {
	nameSel := row.Find("span.rideName").First()

	name := strings.TrimSpace(nameSel.Text())
	if name == "" {
		return nil, nil
	}

	out := events.RawRow{}

	if cancelledPattern.MatchString(name) {
		out["is_canceled"] = true
		name = strings.TrimSpace(cancelledPattern.ReplaceAllString(name, " "))
	}

	out["name"] = name

	if rideID, ok := nameSel.Attr("tag"); ok && strings.TrimSpace(rideID) != "" {
		out["ride_id"] = strings.TrimSpace(rideID)
	}

	if region := strings.TrimSpace(row.Find("td.region").First().Text()); region != "" {
		out["region"] = region
	}

	if date := extractDate(row); date != "" {
		out["date_start"] = date
	}

	if location := extractLocation(row); location != "" {
		out["location"] = location
	}

	extractLinks(row, out)
	extractContacts(row, out)
	extractDistances(row, out)
	extractJudges(row, out)

	rowText := row.Text()

	if strings.Contains(strings.ToLower(rowText), "intro ride") || row.Find("span.red").Length() > 0 {
		out["has_intro_ride"] = true
	}

	return out, nil
}

// extractDate takes the ride date from span.rideDate, falling back to
// the first MM/DD/YYYY anywhere in the row.
func extractDate(row *goquery.Selection) string {
	if text := strings.TrimSpace(row.Find("span.rideDate").First().Text()); text != "" {
		if m := datePattern.FindString(text); m != "" {
			return m
		}

		return text
	}

	return datePattern.FindString(row.Text())
}

// extractLocation prefers span.rideLocation, then the "Location" row of
// the details table.
func extractLocation(row *goquery.Selection) string {
	if text := strings.TrimSpace(row.Find("span.rideLocation").First().Text()); text != "" {
		return text
	}

	var location string

	row.Find("table.detailData tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return true
		}

		if strings.Contains(cells.First().Text(), "Location") {
			location = strings.TrimSpace(cells.Eq(1).Text())

			return false
		}

		return true
	})

	return location
}

// extractLinks classifies anchors: map links, flyers, and the event
// website. A maps.google link also yields coordinates when the URL
// carries them.
func extractLinks(row *goquery.Selection, out events.RawRow) {
	row.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)

		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}

		text := strings.ToLower(strings.TrimSpace(a.Text()))
		lowerHref := strings.ToLower(href)

		switch {
		case strings.Contains(lowerHref, "maps.google") || strings.Contains(lowerHref, "google.com/maps"):
			if _, exists := out["map_link"]; !exists {
				out["map_link"] = href

				if lat, lon, ok := parseCoordinates(href); ok {
					out["coordinates"] = map[string]any{"latitude": lat, "longitude": lon}
				}
			}
		case strings.HasSuffix(lowerHref, ".pdf") ||
			strings.Contains(text, "entry") || strings.Contains(text, "flyer"):
			if _, exists := out["flyer_url"]; !exists {
				out["flyer_url"] = href
			}
		case strings.Contains(text, "website") || strings.Contains(text, "details") ||
			strings.Contains(text, "info"):
			if _, exists := out["website"]; !exists {
				out["website"] = href
			}
		}
	})
}

// parseCoordinates pulls a latitude/longitude pair out of a map URL.
func parseCoordinates(href string) (float64, float64, bool) {
	for _, pattern := range coordPatterns {
		m := pattern.FindStringSubmatch(href)
		if m == nil {
			continue
		}

		lat, latErr := strconv.ParseFloat(m[1], 64)
		lon, lonErr := strconv.ParseFloat(m[2], 64)

		if latErr == nil && lonErr == nil {
			return lat, lon, true
		}
	}

	return 0, 0, false
}

// extractContacts pulls the ride manager, email, and phone out of the
// row's free text.
func extractContacts(row *goquery.Selection, out events.RawRow) {
	text := row.Text()

	if m := ridePattern.FindStringSubmatch(text); m != nil {
		manager := strings.TrimSpace(m[1])

		// The match often runs into the trailing contact details; cut at
		// the first email or phone fragment.
		if em := emailPattern.FindStringIndex(manager); em != nil {
			manager = strings.TrimSpace(manager[:em[0]])
		}

		if ph := phonePattern.FindStringIndex(manager); ph != nil {
			manager = strings.TrimSpace(manager[:ph[0]])
		}

		manager = strings.Trim(manager, " ,;(")

		if manager != "" {
			out["ride_manager"] = manager
		}
	}

	if m := emailPattern.FindString(text); m != "" {
		out["manager_email"] = m
	}

	if m := phonePattern.FindString(text); m != "" {
		out["manager_phone"] = strings.TrimSpace(m)
	}
}

// extractDistances reads the Distances rows of the details table. Each
// row is [label, value, "on <date> starting at <time>"].
func extractDistances(row *goquery.Selection, out events.RawRow) {
	var distances []any

	row.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}

		if !strings.Contains(cells.First().Text(), "Distances") {
			return
		}

		value := strings.TrimSpace(cells.Eq(1).Text())
		if value == "" {
			return
		}

		entry := map[string]any{"distance": value}

		if cells.Length() > 2 {
			if m := schedulePattern.FindStringSubmatch(cells.Eq(2).Text()); m != nil {
				entry["date"] = m[1]
				entry["start_time"] = strings.TrimSpace(m[2])
			}
		}

		distances = append(distances, entry)
	})

	if len(distances) > 0 {
		out["distances"] = distances
	}
}

// extractJudges collects named officials from the row text.
func extractJudges(row *goquery.Selection, out events.RawRow) {
	var judges []any

	seen := map[string]bool{}

	for _, m := range judgePattern.FindAllStringSubmatch(row.Text(), -1) {
		role := strings.TrimSpace(m[1])
		name := strings.Trim(strings.TrimSpace(m[2]), " ,;")

		if name == "" || seen[name] {
			continue
		}

		seen[name] = true
		judges = append(judges, map[string]any{"name": name, "role": role})
	}

	if len(judges) > 0 {
		out["control_judges"] = judges
	}
}
