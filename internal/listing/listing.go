// Package listing turns marketplace exports into listing rows.
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"listing_f1s/internal/config"
	"listing_f1s/internal/tabular"
	"listing_f1s/internal/workbook"

	"github.com/rs/zerolog/log"
)

// ErrMissingColumn is returned when no usable sheet carries the required columns.
var ErrMissingColumn = errors.New("listing is missing a required column")

// Row is one seller product as exported.
type Row struct {
	EAN      string
	SKU      string
	ID       string
	Platform string
	// Rating is zero unless the export carries a parseable rating column.
	Rating float64
}

var zipMagic = []byte("PK\x03\x04")

// Read detects the container format of data and parses it.
func Read(data []byte, cols config.ListingColumns) ([]Row, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return ReadXLSX(data, cols)
	}
	return ReadCSV(data, cols)
}

// ReadCSV parses a delimited export whose first line is the header.
func ReadCSV(data []byte, cols config.ListingColumns) ([]Row, error) {
	table, err := tabular.ReadCSV(bytes.NewReader(data), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing csv: %w", err)
	}
	rows, err := fromTable(table, cols)
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", len(rows)).Msg("Read listing csv")
	return rows, nil
}

// ReadXLSX parses every worksheet of an xlsx export. Worksheets lacking the
// required columns are skipped.
func ReadXLSX(data []byte, cols config.ListingColumns) ([]Row, error) {
	sheets, err := workbook.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing workbook: %w", err)
	}

	var rows []Row
	usable := 0
	for _, sheet := range sheets {
		table, err := tabular.FromRecords(sheet.Rows, 1)
		if err != nil {
			log.Warn().Str("sheet", sheet.Name).Msg("Empty worksheet in listing; skipping")
			continue
		}
		sheetRows, err := fromTable(table, cols)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheet.Name).Strs("columns", table.Header).Msg("Skipping listing worksheet")
			continue
		}
		usable++
		rows = append(rows, sheetRows...)
	}
	if usable == 0 {
		return nil, fmt.Errorf("no worksheet has columns %q and %q: %w", cols.EAN, cols.SKU, ErrMissingColumn)
	}
	log.Info().Int("rows", len(rows)).Int("sheets", usable).Msg("Read listing workbook")
	return rows, nil
}

func fromTable(table tabular.Table, cols config.ListingColumns) ([]Row, error) {
	eanIdx := table.Column(cols.EAN)
	skuIdx := table.Column(cols.SKU)
	if eanIdx < 0 {
		return nil, fmt.Errorf("column %q: %w", cols.EAN, ErrMissingColumn)
	}
	if skuIdx < 0 {
		return nil, fmt.Errorf("column %q: %w", cols.SKU, ErrMissingColumn)
	}
	idIdx := optionalColumn(table, cols.ID)
	platformIdx := optionalColumn(table, cols.Platform)
	ratingIdx := -1
	if cols.Rating != "" {
		if ratingIdx = table.Column(cols.Rating); ratingIdx < 0 {
			return nil, fmt.Errorf("column %q: %w", cols.Rating, ErrMissingColumn)
		}
	}

	rows := make([]Row, 0, len(table.Rows))
	for i, rec := range table.Rows {
		if isBlank(rec) {
			continue
		}
		r := Row{
			EAN:      tabular.NormalizeCode(tabular.Cell(rec, eanIdx)),
			SKU:      tabular.Cell(rec, skuIdx),
			ID:       tabular.NormalizeCode(tabular.Cell(rec, idIdx)),
			Platform: tabular.Cell(rec, platformIdx),
		}
		if ratingIdx >= 0 {
			if raw := tabular.Cell(rec, ratingIdx); raw != "" {
				v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
				if err != nil {
					log.Debug().Int("row", i+2).Str("rating", raw).Msg("Unparseable rating; treating as absent")
				} else {
					r.Rating = v
				}
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func optionalColumn(table tabular.Table, name string) int {
	if name == "" {
		return -1
	}
	return table.Column(name)
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ValidEAN reports whether ean parses as an integer, which the ratings API requires.
func ValidEAN(ean string) bool {
	_, err := strconv.ParseInt(ean, 10, 64)
	return err == nil
}
