// Package cleaner reduces raw calendar payloads to event-row fragments.
package cleaner

import (
	"errors"
	"strings"
	"testing"
)

const rowSelector = "div.calendarRow"

// ==============================================================================
// Unit Tests: Payload unwrapping
// ==============================================================================

func TestUnwrapJSONEnvelope(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := []byte(`{"html": "<div class=\"calendarRow\">ride</div>"}`)

	got := Unwrap(payload)
	if got != `<div class="calendarRow">ride</div>` {
		t.Errorf("Unwrap() = %q, want inner html", got)
	}
}

func TestUnwrapRawHTMLPassesThrough(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := []byte(`<html><body><div class="calendarRow">ride</div></body></html>`)

	got := Unwrap(payload)
	if !strings.Contains(got, `<div class="calendarRow">ride</div>`) {
		t.Errorf("Unwrap() = %q, want raw html preserved", got)
	}
}

func TestUnwrapMalformedJSONFallsBack(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := []byte(`{"html": truncated`)

	if got := Unwrap(payload); got != `{"html": truncated` {
		t.Errorf("Unwrap() = %q, want payload passed through", got)
	}
}

// ==============================================================================
// Unit Tests: Cleaning
// ==============================================================================

func TestCleanStripsChromeAndCollectsRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := []byte(`<html>
		<head><script>alert(1)</script><style>.x{}</style></head>
		<body>
			<header>site chrome</header>
			<nav>menu</nav>
			<div class="calendarRow"><span class="rideName">First Ride</span></div>
			<div class="sidebar">ads</div>
			<div class="calendarRow"><span class="rideName">Second Ride</span></div>
			<footer>contact</footer>
		</body>
	</html>`)

	c := New(rowSelector, nil)

	out, err := c.Clean(payload)
	if err != nil {
		t.Fatalf("Clean() failed: %v", err)
	}

	if !strings.HasPrefix(out, `<div id="calendar-content">`) {
		t.Errorf("Clean() output missing container prefix: %q", out[:40])
	}

	for _, fragment := range []string{"First Ride", "Second Ride"} {
		if !strings.Contains(out, fragment) {
			t.Errorf("Clean() output missing row %q", fragment)
		}
	}

	for _, stripped := range []string{"alert(1)", "site chrome", "menu", "contact", "ads"} {
		if strings.Contains(out, stripped) {
			t.Errorf("Clean() output still contains stripped content %q", stripped)
		}
	}

	// Row order is preserved.
	if strings.Index(out, "First Ride") > strings.Index(out, "Second Ride") {
		t.Error("Clean() reordered rows")
	}
}

func TestCleanJSONWrappedPayload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := []byte(`{"html": "<div class=\"calendarRow\">wrapped ride</div>"}`)

	c := New(rowSelector, nil)

	out, err := c.Clean(payload)
	if err != nil {
		t.Fatalf("Clean() failed: %v", err)
	}

	if !strings.Contains(out, "wrapped ride") {
		t.Errorf("Clean() output missing row from JSON envelope: %q", out)
	}
}

func TestCleanNoRowsFound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", []byte("")},
		{"no matching rows", []byte(`<html><body><p>nothing here</p></body></html>`)},
		{"empty envelope", []byte(`{"html": ""}`)},
	}

	c := New(rowSelector, nil)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Clean(tc.payload); !errors.Is(err, ErrNoRowsFound) {
				t.Errorf("Clean() error = %v, want ErrNoRowsFound", err)
			}
		})
	}
}
