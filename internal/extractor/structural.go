package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trailblaze-io/trailblaze/internal/events"
	"github.com/trailblaze-io/trailblaze/internal/source"
)

// Structural extracts rows with the Source Driver's DOM selectors. It is
// a pure function of the chunk: deterministic, no network.
type Structural struct {
	driver source.Driver
}

// NewStructural creates the structural strategy for a driver.
func NewStructural(driver source.Driver) *Structural {
	return &Structural{driver: driver}
}

// Extract parses the chunk and applies the driver's row extraction to
// every match of the row selector. Rows the driver rejects (nil, nil)
// are skipped; a driver error on one row skips that row only.
func (s *Structural) Extract(ctx context.Context, chunk string) ([]events.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("parse chunk: %w", err)
	}

	var rows []events.RawRow

	doc.Find(s.driver.RowSelector()).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}

		row, rowErr := s.driver.ExtractRow(sel)
		if rowErr != nil || row == nil {
			return true
		}

		rows = append(rows, row)

		return true
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}
