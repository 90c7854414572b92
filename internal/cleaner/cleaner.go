// Package cleaner reduces a raw calendar payload to a minimal HTML
// fragment containing only event rows.
//
// Payloads arrive either as raw HTML or as a JSON envelope with an
// "html" field (the AERC admin-ajax endpoint returns the latter). The
// cleaner strips scripts, styles, and page chrome, then collects every
// row matching the source's row selector into a single stable container.
// Downstream stages tolerate sloppy markup; the cleaner's parser repairs
// unbalanced tags as a side effect of re-serialising the DOM.
package cleaner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoRowsFound indicates the payload contained no calendar rows.
// Fatal to a pipeline run.
var ErrNoRowsFound = errors.New("no calendar rows found")

// chromeSelectors are the page elements stripped before row collection.
var chromeSelectors = []string{"script", "style", "nav", "header", "footer"}

// jsonEnvelope is the shape of a JSON-wrapped payload.
type jsonEnvelope struct {
	HTML string `json:"html"`
}

// Cleaner isolates calendar rows for one source.
type Cleaner struct {
	rowSelector string
	logger      *slog.Logger
}

// New creates a Cleaner for a source row selector.
func New(rowSelector string, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cleaner{
		rowSelector: rowSelector,
		logger:      logger.With("component", "cleaner"),
	}
}

// Clean unwraps, strips, and reduces a payload to a fragment of the form
//
//	<div id="calendar-content">…rows…</div>
//
// Returns ErrNoRowsFound when no element matches the row selector.
func (c *Cleaner) Clean(payload []byte) (string, error) {
	html := Unwrap(payload)
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("%w: empty payload", ErrNoRowsFound)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}

	for _, sel := range chromeSelectors {
		doc.Find(sel).Remove()
	}

	rows := doc.Find(c.rowSelector)
	if rows.Length() == 0 {
		return "", fmt.Errorf("%w: selector %q matched nothing", ErrNoRowsFound, c.rowSelector)
	}

	var b strings.Builder

	b.WriteString(`<div id="calendar-content">`)

	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		fragment, htmlErr := goquery.OuterHtml(row)
		if htmlErr != nil {
			err = fmt.Errorf("serialise row: %w", htmlErr)

			return false
		}

		b.WriteString(fragment)

		return true
	})

	if err != nil {
		return "", err
	}

	b.WriteString(`</div>`)

	c.logger.Debug("cleaned payload",
		"rows", rows.Length(),
		"input_bytes", len(payload),
		"output_bytes", b.Len(),
	)

	return b.String(), nil
}

// Unwrap extracts the HTML from a payload that may be a JSON envelope
// with an "html" field. Raw HTML passes through untouched.
func Unwrap(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	var envelope jsonEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.HTML != "" {
		return envelope.HTML
	}

	return trimmed
}
