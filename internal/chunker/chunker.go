// Package chunker partitions cleaned calendar HTML into bounded-size
// substrings that never split an event row.
//
// The extraction stage operates on one chunk at a time; keeping chunks
// under a target size bounds both structural-parse memory and the prompt
// size of the AI-assisted strategy. Concatenating the rows of all emitted
// chunks, in order, always reproduces the input row sequence.
package chunker

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type (
	// Options bound chunk sizes in bytes.
	Options struct {
		// InitialSize is the target chunk size.
		InitialSize int

		// MinSize and MaxSize clamp dynamic adjustment when individual
		// rows run large.
		MinSize int
		MaxSize int
	}

	// Chunker splits cleaned HTML on row boundaries.
	Chunker struct {
		opts        Options
		rowSelector string
		logger      *slog.Logger
	}
)

// Default sizes mirror typical AERC row weights: a season's calendar is
// a few hundred KB, individual rows a few KB.
const (
	DefaultInitialSize = 30000
	DefaultMinSize     = 10000
	DefaultMaxSize     = 90000
)

// New creates a Chunker for a source row selector.
func New(opts Options, rowSelector string, logger *slog.Logger) *Chunker {
	if opts.InitialSize <= 0 {
		opts.InitialSize = DefaultInitialSize
	}

	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}

	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Chunker{
		opts:        opts,
		rowSelector: rowSelector,
		logger:      logger.With("component", "chunker"),
	}
}

// Chunk splits cleaned HTML into row-aligned chunks, each wrapped in a
// stable container so extraction is uniform:
//
//	<div class="calendar-content">…rows…</div>
//
// Rows are appended greedily while the chunk stays within the target
// size. A row larger than half the target grows the target to 1.5x the
// row size, clamped to [MinSize, MaxSize]; oversized rows are never
// split.
func (c *Chunker) Chunk(cleanedHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleanedHTML))
	if err != nil {
		return nil, fmt.Errorf("parse cleaned html: %w", err)
	}

	var rows []string

	doc.Find(c.rowSelector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		fragment, htmlErr := goquery.OuterHtml(row)
		if htmlErr != nil {
			err = fmt.Errorf("serialise row: %w", htmlErr)

			return false
		}

		rows = append(rows, fragment)

		return true
	})

	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	chunkSize := c.opts.InitialSize

	var (
		chunks  []string
		current strings.Builder
	)

	seal := func() {
		if current.Len() > 0 {
			chunks = append(chunks, wrap(current.String()))
			current.Reset()
		}
	}

	for _, row := range rows {
		if len(row) > chunkSize/2 {
			adjusted := clamp(len(row)*3/2, c.opts.MinSize, c.opts.MaxSize)
			if adjusted != chunkSize {
				c.logger.Debug("adjusting chunk size",
					"row_bytes", len(row),
					"old_size", chunkSize,
					"new_size", adjusted,
				)
				chunkSize = adjusted
			}
		}

		if current.Len() > 0 && current.Len()+len(row) > chunkSize {
			seal()
		}

		current.WriteString(row)
	}

	seal()

	c.logger.Debug("chunked rows", "rows", len(rows), "chunks", len(chunks))

	return chunks, nil
}

func wrap(rows string) string {
	return `<div class="calendar-content">` + rows + `</div>`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
