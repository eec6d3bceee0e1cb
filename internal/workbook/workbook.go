// Package workbook holds the in-memory workbook threaded through the
// enrichment stages and its xlsx encoding.
package workbook

import (
	"fmt"
	"strconv"
)

// Stage marks how far a workbook has progressed through enrichment.
type Stage int

const (
	Raw Stage = iota
	RatingFiltered
	DescriptionJoined
	SubstituteJoined
	BarcodeJoined
	Final
)

func (s Stage) String() string {
	switch s {
	case Raw:
		return "raw"
	case RatingFiltered:
		return "rating_filtered"
	case DescriptionJoined:
		return "description_joined"
	case SubstituteJoined:
		return "substitute_joined"
	case BarcodeJoined:
		return "barcode_joined"
	case Final:
		return "final"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// Column headers, in the order enrichment appends them.
const (
	ColEAN         = "ean"
	ColSKU         = "sku"
	ColID          = "id"
	ColRating      = "rating"
	ColDescription = "description"
	ColSubstitute  = "F1_to_use"
	ColBarcode     = "barcode"
	ColBrand       = "brand"
)

// Row is one listing row together with the fields derived for it. Empty
// strings stand for absent values.
type Row struct {
	EAN      string
	SKU      string
	ID       string
	Platform string
	Rating   float64

	Description string
	Substitute  string
	Barcode     string
	Brand       string
}

// Sheet is a named, ordered run of rows.
type Sheet struct {
	Name string
	Rows []Row
}

// Workbook is an ordered set of sheets at a given stage.
type Workbook struct {
	Stage  Stage
	Sheets []Sheet
}

// Clone returns a deep copy so a stage never mutates its input.
func (w Workbook) Clone() Workbook {
	out := Workbook{Stage: w.Stage, Sheets: make([]Sheet, len(w.Sheets))}
	for i, s := range w.Sheets {
		out.Sheets[i] = Sheet{Name: s.Name, Rows: append([]Row(nil), s.Rows...)}
	}
	return out
}

// RowCount sums rows across sheets.
func (w Workbook) RowCount() int {
	n := 0
	for _, s := range w.Sheets {
		n += len(s.Rows)
	}
	return n
}

// Columns returns the header visible at stage.
func Columns(stage Stage) []string {
	cols := []string{ColEAN, ColSKU, ColID}
	if stage >= RatingFiltered {
		cols = append(cols, ColRating)
	}
	if stage >= DescriptionJoined {
		cols = append(cols, ColDescription)
	}
	if stage >= SubstituteJoined {
		cols = append(cols, ColSubstitute)
	}
	if stage >= BarcodeJoined {
		cols = append(cols, ColBarcode, ColBrand)
	}
	return cols
}

// Values renders r in the column order of Columns(stage).
func (r Row) Values(stage Stage) []interface{} {
	vals := []interface{}{cell(r.EAN), cell(r.SKU), cell(r.ID)}
	if stage >= RatingFiltered {
		vals = append(vals, rating(r.Rating))
	}
	if stage >= DescriptionJoined {
		vals = append(vals, cell(r.Description))
	}
	if stage >= SubstituteJoined {
		vals = append(vals, cell(r.Substitute))
	}
	if stage >= BarcodeJoined {
		vals = append(vals, cell(r.Barcode), cell(r.Brand))
	}
	return vals
}

// Tables converts the workbook into encoder input.
func (w Workbook) Tables() []Table {
	tables := make([]Table, 0, len(w.Sheets))
	header := Columns(w.Stage)
	for _, s := range w.Sheets {
		rows := make([][]interface{}, len(s.Rows))
		for i, r := range s.Rows {
			rows[i] = r.Values(w.Stage)
		}
		tables = append(tables, Table{Name: s.Name, Header: header, Rows: rows})
	}
	return tables
}

func cell(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rating(v float64) interface{} {
	if v == float64(int64(v)) {
		return int64(v)
	}
	return v
}

// TaskTitle is the downstream task title for a row.
func TaskTitle(r Row) string {
	return fmt.Sprintf("F1 for %s - %s", r.SKU, r.Description)
}
