package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"listing_f1s/internal/tabular"

	"github.com/rs/zerolog/log"
)

// ErrMissingColumn is returned when a reference table lacks an expected header.
var ErrMissingColumn = errors.New("reference table is missing a required column")

const (
	ColSkuCode        = "Sku code"
	ColSkuDescription = "Sku description"

	ColBarcodeSKU   = "SKU"
	ColBarcodeNum   = "Number"
	ColBarcodeBrand = "Main Brand"
)

// Descriptions maps SKU codes to human descriptions.
type Descriptions struct {
	bySKU     map[string]string
	byNumeric map[string]string
}

// NewDescriptions indexes a description table. The first occurrence of a
// code wins.
func NewDescriptions(t tabular.Table) (*Descriptions, error) {
	codeIdx, descIdx := t.Column(ColSkuCode), t.Column(ColSkuDescription)
	if codeIdx < 0 || descIdx < 0 {
		return nil, fmt.Errorf("need %q and %q, have %q: %w", ColSkuCode, ColSkuDescription, t.Header, ErrMissingColumn)
	}
	d := &Descriptions{bySKU: map[string]string{}, byNumeric: map[string]string{}}
	for _, rec := range t.Rows {
		code := tabular.Cell(rec, codeIdx)
		if code == "" {
			continue
		}
		desc := tabular.Cell(rec, descIdx)
		if _, seen := d.bySKU[code]; !seen {
			d.bySKU[code] = desc
		}
		if tabular.IsDigits(code) {
			if _, seen := d.byNumeric[code]; !seen {
				d.byNumeric[code] = desc
			}
		}
	}
	return d, nil
}

// Lookup joins on the trimmed SKU, then falls back to the SKU's first digit
// run against purely numeric codes ("12345-F2" -> "12345"). SKUs are compared
// as text, so "4E2" never matches "400".
func (d *Descriptions) Lookup(sku string) (string, bool) {
	sku = strings.TrimSpace(sku)
	if desc, ok := d.bySKU[sku]; ok && desc != "" {
		return desc, true
	}
	if digits := tabular.LeadingDigits(sku); digits != "" {
		if desc, ok := d.byNumeric[digits]; ok && desc != "" {
			return desc, true
		}
	}
	return "", false
}

// Len is the number of indexed codes.
func (d *Descriptions) Len() int { return len(d.bySKU) }

// Substitutes scans a wide reference table for substitute product codes.
type Substitutes struct {
	rows        [][]string
	first, last int
}

// NewSubstitutes keeps the data rows of t and searches columns first..last
// (0-based, inclusive).
func NewSubstitutes(t tabular.Table, first, last int) *Substitutes {
	if first < 0 {
		first = 0
	}
	return &Substitutes{rows: t.Rows, first: first, last: last}
}

// Lookup finds the first row whose window contains sku as a substring and
// returns the rightmost non-empty cell of that window. A candidate equal to
// sku itself is not a substitute.
func (s *Substitutes) Lookup(sku string) (string, bool) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return "", false
	}
	for _, row := range s.rows {
		window := s.window(row)
		if !containsIn(window, sku) {
			continue
		}
		candidate := lastNonEmpty(window)
		if candidate == "" || candidate == sku {
			return "", false
		}
		return candidate, true
	}
	return "", false
}

func (s *Substitutes) window(row []string) []string {
	if s.first >= len(row) {
		return nil
	}
	end := s.last + 1
	if end > len(row) {
		end = len(row)
	}
	return row[s.first:end]
}

func containsIn(cells []string, sku string) bool {
	for _, c := range cells {
		if strings.Contains(c, sku) {
			return true
		}
	}
	return false
}

func lastNonEmpty(cells []string) string {
	for i := len(cells) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(cells[i]); v != "" {
			return v
		}
	}
	return ""
}

// Barcode is the numeric barcode and brand registered for a code.
type Barcode struct {
	Number string
	Brand  string
}

// Barcodes maps product codes to barcodes.
type Barcodes struct {
	byCode map[string]Barcode
}

// NewBarcodes indexes an uploaded barcode table; the first row per code wins.
func NewBarcodes(t tabular.Table) (*Barcodes, error) {
	skuIdx, numIdx, brandIdx := t.Column(ColBarcodeSKU), t.Column(ColBarcodeNum), t.Column(ColBarcodeBrand)
	if skuIdx < 0 || numIdx < 0 {
		return nil, fmt.Errorf("need %q and %q, have %q: %w", ColBarcodeSKU, ColBarcodeNum, t.Header, ErrMissingColumn)
	}
	if brandIdx < 0 {
		log.Warn().Str("column", ColBarcodeBrand).Msg("Barcode table has no brand column; brands will be empty")
	}
	b := &Barcodes{byCode: map[string]Barcode{}}
	for _, rec := range t.Rows {
		code := tabular.Cell(rec, skuIdx)
		if code == "" {
			continue
		}
		if _, seen := b.byCode[code]; seen {
			continue
		}
		b.byCode[code] = Barcode{
			Number: CleanBarcode(tabular.Cell(rec, numIdx)),
			Brand:  tabular.Cell(rec, brandIdx),
		}
	}
	return b, nil
}

// Lookup matches the trimmed code exactly.
func (b *Barcodes) Lookup(code string) (Barcode, bool) {
	bc, ok := b.byCode[strings.TrimSpace(code)]
	return bc, ok
}

// CleanBarcode strips the = and " characters used to force text cells.
func CleanBarcode(s string) string {
	return strings.NewReplacer("=", "", `"`, "").Replace(strings.TrimSpace(s))
}

// Loader fetches the remote lookup tables on demand; nothing is cached.
type Loader struct {
	Description          Source
	DescriptionHeaderRow int
	Substitute           Source
	SubstituteHeaderRow  int
	SubstituteFirstCol   int
	SubstituteLastCol    int
}

func (l *Loader) LoadDescriptions(ctx context.Context) (*Descriptions, error) {
	records, err := l.Description.Records(ctx)
	if err != nil {
		return nil, err
	}
	t, err := tabular.FromRecords(records, l.DescriptionHeaderRow)
	if err != nil {
		return nil, fmt.Errorf("description table: %w", err)
	}
	d, err := NewDescriptions(t)
	if err != nil {
		return nil, err
	}
	log.Info().Int("codes", d.Len()).Msg("Loaded SKU descriptions")
	return d, nil
}

func (l *Loader) LoadSubstitutes(ctx context.Context) (*Substitutes, error) {
	records, err := l.Substitute.Records(ctx)
	if err != nil {
		return nil, err
	}
	t, err := tabular.FromRecords(records, l.SubstituteHeaderRow)
	if err != nil {
		return nil, fmt.Errorf("substitute table: %w", err)
	}
	log.Info().Int("rows", len(t.Rows)).Msg("Loaded substitute table")
	return NewSubstitutes(t, l.SubstituteFirstCol, l.SubstituteLastCol), nil
}

// LoadBarcodes parses an uploaded barcode CSV whose header sits on headerRow.
func LoadBarcodes(data []byte, headerRow int) (*Barcodes, error) {
	t, err := tabular.ReadCSV(strings.NewReader(string(data)), headerRow)
	if err != nil {
		return nil, fmt.Errorf("barcode table: %w", err)
	}
	b, err := NewBarcodes(t)
	if err != nil {
		return nil, err
	}
	log.Info().Int("codes", len(b.byCode)).Msg("Loaded barcodes")
	return b, nil
}
