package aerc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-io/trailblaze/internal/fetcher"
)

const sampleRow = `
<div class="calendarRow">
  <table>
    <tr class="fix-jumpy">
      <td class="region">W</td>
      <td><span class="rideDate">04/06/2024</span></td>
      <td>
        <span class="rideName details" tag="1204">Desert Classic</span>
        <span class="rideLocation">Washoe Lake State Park - Reno, NV</span>
      </td>
    </tr>
  </table>
  <table class="detailData">
    <tr><td>Location :</td><td>Washoe Lake State Park - Reno, NV</td></tr>
    <tr><td>Distances</td><td>25</td><td>on 04/06/2024 starting at 07:00 am</td></tr>
    <tr><td>Distances</td><td>50</td><td>on 04/06/2024 starting at 06:00 am</td></tr>
  </table>
  <p>RM: Jane Doe, jane@example.com, (775) 555-1234</p>
  <p>Control Judge: Dr. Smith</p>
  <a href="https://maps.google.com/?q=39.52,-119.81">Map</a>
  <a href="https://example.com/flyer.pdf">Entry Form</a>
  <a href="https://example.com/ride">Website</a>
</div>`

func parseRow(t *testing.T, html string) *goquery.Selection {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse row HTML: %v", err)
	}

	sel := doc.Find("div.calendarRow").First()
	if sel.Length() == 0 {
		t.Fatal("no calendarRow in fixture")
	}

	return sel
}

// ==============================================================================
// Unit Tests: Row extraction
// ==============================================================================

func TestExtractRowFullDetails(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	row, err := New().ExtractRow(parseRow(t, sampleRow))
	if err != nil {
		t.Fatalf("ExtractRow() failed: %v", err)
	}

	if got := row.String("name"); got != "Desert Classic" {
		t.Errorf("name = %q", got)
	}

	if got := row.String("ride_id"); got != "1204" {
		t.Errorf("ride_id = %q", got)
	}

	if got := row.String("region"); got != "W" {
		t.Errorf("region = %q", got)
	}

	if got := row.String("date_start"); got != "04/06/2024" {
		t.Errorf("date_start = %q", got)
	}

	if got := row.String("location"); got != "Washoe Lake State Park - Reno, NV" {
		t.Errorf("location = %q", got)
	}

	if got := row.String("ride_manager"); got != "Jane Doe" {
		t.Errorf("ride_manager = %q", got)
	}

	if got := row.String("manager_email"); got != "jane@example.com" {
		t.Errorf("manager_email = %q", got)
	}

	if got := row.String("manager_phone"); got != "(775) 555-1234" {
		t.Errorf("manager_phone = %q", got)
	}

	if got := row.String("map_link"); !strings.Contains(got, "maps.google.com") {
		t.Errorf("map_link = %q", got)
	}

	coords := row.Map("coordinates")
	if coords == nil || coords["latitude"] != 39.52 || coords["longitude"] != -119.81 {
		t.Errorf("coordinates = %v", coords)
	}

	if got := row.String("flyer_url"); got != "https://example.com/flyer.pdf" {
		t.Errorf("flyer_url = %q", got)
	}

	if got := row.String("website"); got != "https://example.com/ride" {
		t.Errorf("website = %q", got)
	}

	distances := row.Maps("distances")
	if len(distances) != 2 {
		t.Fatalf("distances = %v, want 2 entries", distances)
	}

	if distances[0]["distance"] != "25" || distances[0]["start_time"] != "07:00 am" {
		t.Errorf("first distance = %v", distances[0])
	}

	judges := row.Maps("control_judges")
	if len(judges) != 1 || judges[0]["name"] != "Dr. Smith" || judges[0]["role"] != "Control Judge" {
		t.Errorf("control_judges = %v", judges)
	}
}

func TestExtractRowCancelledMarker(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	html := `<div class="calendarRow">
		<span class="rideName" tag="9">** Cancelled ** Moonlight Ride</span>
		<span class="rideDate">05/01/2024</span>
	</div>`

	row, err := New().ExtractRow(parseRow(t, html))
	if err != nil {
		t.Fatalf("ExtractRow() failed: %v", err)
	}

	if !row.Bool("is_canceled") {
		t.Error("is_canceled not set")
	}

	if got := row.String("name"); got != "Moonlight Ride" {
		t.Errorf("name = %q, want marker stripped", got)
	}
}

func TestExtractRowSkipsNameless(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	row, err := New().ExtractRow(parseRow(t, `<div class="calendarRow"><td>junk</td></div>`))
	if err != nil {
		t.Fatalf("ExtractRow() failed: %v", err)
	}

	if row != nil {
		t.Errorf("nameless row should be skipped, got %v", row)
	}
}

func TestExtractRowIntroMarker(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	html := `<div class="calendarRow">
		<span class="rideName" tag="7">Fun Day</span>
		<span class="rideDate">06/01/2024</span>
		<p>Intro Ride offered both days</p>
	</div>`

	row, err := New().ExtractRow(parseRow(t, html))
	if err != nil {
		t.Fatalf("ExtractRow() failed: %v", err)
	}

	if !row.Bool("has_intro_ride") {
		t.Error("has_intro_ride not set")
	}
}

// ==============================================================================
// Unit Tests: Payload fetch
// ==============================================================================

func TestFetchPayloadSubmitsCalendarForm(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var gotForm map[string][]string

	mux := http.NewServeMux()
	mux.HandleFunc("/calendar", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<form>
			<input name="season[]" value="2024">
			<input name="season[]" value="2025">
			<input name="season[]" value="2026">
		</form>`))
	})
	mux.HandleFunc("/wp-admin/admin-ajax.php", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		gotForm = r.PostForm
		_, _ = w.Write([]byte(`{"html": "<div class=\"calendarRow\"></div>"}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	driver := New(WithEndpoints(server.URL+"/calendar", server.URL+"/wp-admin/admin-ajax.php"))
	client := fetcher.NewClient(fetcher.Options{RequestTimeout: 5 * time.Second}, nil)

	payload, err := driver.FetchPayload(context.Background(), client)
	if err != nil {
		t.Fatalf("FetchPayload() failed: %v", err)
	}

	if !strings.Contains(string(payload), "calendarRow") {
		t.Errorf("payload = %q", payload)
	}

	if got := gotForm["action"]; len(got) != 1 || got[0] != "aerc_calendar_form" {
		t.Errorf("action = %v", gotForm["action"])
	}

	// Only the first two seasons are submitted.
	if got := gotForm["season[]"]; len(got) != 2 || got[0] != "2024" || got[1] != "2025" {
		t.Errorf("season[] = %v", got)
	}

	if got := gotForm["country[]"]; len(got) != 2 {
		t.Errorf("country[] = %v", got)
	}
}

func TestFetchPayloadFailsWithoutSeasons(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>maintenance</body></html>`))
	}))
	defer server.Close()

	driver := New(WithEndpoints(server.URL, server.URL))
	client := fetcher.NewClient(fetcher.Options{RequestTimeout: 5 * time.Second}, nil)

	if _, err := driver.FetchPayload(context.Background(), client); !errors.Is(err, ErrNoSeasons) {
		t.Errorf("FetchPayload() error = %v, want ErrNoSeasons", err)
	}
}
