// Package tabular reads delimited exports and normalizes the codes found in
// them before they are used as join keys.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Table is a header plus the rows beneath it.
type Table struct {
	Header []string
	Rows   [][]string
}

var (
	trailingZeros = regexp.MustCompile(`^(-?\d+)\.0+$`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// ReadCSV parses r and takes the 1-based headerRow as column names; rows
// above it are discarded. Ragged rows are accepted.
func ReadCSV(r io.Reader, headerRow int) (Table, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse csv: %w", err)
	}
	return FromRecords(records, headerRow)
}

// FromRecords splits already-read records at the 1-based headerRow.
func FromRecords(records [][]string, headerRow int) (Table, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	if len(records) < headerRow {
		return Table{}, errors.New("table has no header row")
	}
	header := make([]string, len(records[headerRow-1]))
	for i, h := range records[headerRow-1] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return Table{Header: header, Rows: records[headerRow:]}, nil
}

// Column returns the index of name in the header, or -1. Matching is exact
// first, then case-insensitive.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// Cell returns row[idx] trimmed, or "" when idx is out of range.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// NormalizeCode trims s and undoes float rendering of integral numeric
// identifiers, so "12345.0" and "1.2345e+04" both become "12345". It is
// meant for EAN and id columns; SKUs are free text and must not pass
// through it.
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m := trailingZeros.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e18 {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

// LeadingDigits returns the first run of digits in s, or "".
func LeadingDigits(s string) string {
	return digitRun.FindString(s)
}

// IsDigits reports whether s is a non-empty string of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
