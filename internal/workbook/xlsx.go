package workbook

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of Encode's output.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	invalidInName = "[]:*?/\\"
)

// Table is one worksheet ready for encoding.
type Table struct {
	Name   string
	Header []string
	Rows   [][]interface{}
}

// RawSheet is one worksheet as read back, every cell as text.
type RawSheet struct {
	Name string
	Rows [][]string
}

// Serialize encodes w as an xlsx buffer, preserving sheet and row order.
func Serialize(w Workbook) ([]byte, error) {
	return Encode(w.Tables())
}

// Encode writes tables to a single xlsx buffer. An empty input still yields
// a valid workbook with one blank sheet.
func Encode(tables []Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	used := make(map[string]bool)
	for i, t := range tables {
		name := uniqueSheetName(SanitizeSheetName(t.Name), used)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, fmt.Errorf("failed to rename sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %q: %w", name, err)
		}

		if err := writeTable(f, name, t, headerStyle); err != nil {
			return nil, err
		}
		log.Debug().Str("sheet", name).Int("rows", len(t.Rows)).Msg("Wrote sheet")
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, name string, t Table, headerStyle int) error {
	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header of %q: %w", name, err)
	}
	if len(header) > 0 {
		if err := f.SetRowStyle(name, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("failed to style header of %q: %w", name, err)
		}
	}
	for i, row := range t.Rows {
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(name, axis, &values); err != nil {
			return fmt.Errorf("failed to write row %d of %q: %w", i+2, name, err)
		}
	}
	return nil
}

// Decode reads every worksheet of an xlsx buffer in workbook order.
func Decode(data []byte) ([]RawSheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sheets []RawSheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, RawSheet{Name: name, Rows: rows})
	}
	return sheets, nil
}

// SanitizeSheetName makes name acceptable as a worksheet title.
func SanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidInName, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if name == "" {
		return defaultSheet
	}
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	return name
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		base := []rune(name)
		if len(base)+len(suffix) > maxSheetName {
			base = base[:maxSheetName-len(suffix)]
		}
		candidate = string(base) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
