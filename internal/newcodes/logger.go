// Package newcodes records SKUs that still need a substitute code in a
// shared Google Sheet.
package newcodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"listing_f1s/internal/pipeline"
	"listing_f1s/internal/sheets"

	"github.com/rs/zerolog/log"
)

// Header is written when the log tab is empty.
var Header = []interface{}{"Seller SKU", "Sku description", "Marketplace", "Logged at"}

// SheetWriter is the subset of sheets.Client the logger uses.
type SheetWriter interface {
	ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error)
	AppendRows(ctx context.Context, spreadsheetID, range_ string, rows [][]interface{}) error
	UpdateRange(ctx context.Context, spreadsheetID, range_ string, values [][]interface{}) error
}

type Logger struct {
	sheets        SheetWriter
	spreadsheetID string
	range_        string
	marketplace   string
	now           func() time.Time
}

func NewLogger(w SheetWriter, spreadsheetID, range_, marketplace string) *Logger {
	return &Logger{
		sheets:        w,
		spreadsheetID: spreadsheetID,
		range_:        range_,
		marketplace:   marketplace,
		now:           time.Now,
	}
}

// Log appends the requests whose SKU is not already in the sheet and
// returns how many rows were added.
func (l *Logger) Log(ctx context.Context, requests []pipeline.NewCodeRequest) (int, error) {
	if len(requests) == 0 {
		return 0, nil
	}

	existingData, err := l.sheets.ReadSheet(ctx, l.spreadsheetID, sheets.FullRange(l.range_))
	if err != nil {
		return 0, fmt.Errorf("failed to read new code log: %w", err)
	}
	if len(existingData) == 0 {
		headerRange := sheets.SheetName(l.range_) + "!A1"
		if err := l.sheets.UpdateRange(ctx, l.spreadsheetID, headerRange, [][]interface{}{Header}); err != nil {
			return 0, fmt.Errorf("failed to write new code log header: %w", err)
		}
	}

	existing := sheets.BuildExistingMap(existingData, 0)
	stamp := l.now().UTC().Format(time.RFC3339)
	var rows [][]interface{}
	for _, r := range requests {
		sku := strings.TrimSpace(r.SKU)
		if sku == "" || existing[sku] {
			continue
		}
		existing[sku] = true
		rows = append(rows, []interface{}{sku, r.Description, l.marketplace, stamp})
	}

	skipped := len(requests) - len(rows)
	if len(rows) == 0 {
		log.Info().Int("skipped", skipped).Msg("All new code requests already logged")
		return 0, nil
	}
	if err := l.sheets.AppendRows(ctx, l.spreadsheetID, l.range_, rows); err != nil {
		return 0, fmt.Errorf("failed to append new code requests: %w", err)
	}
	log.Info().
		Int("added", len(rows)).
		Int("skipped", skipped).
		Msg("New code log update complete")
	return len(rows), nil
}
