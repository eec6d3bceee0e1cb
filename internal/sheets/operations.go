package sheets

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SheetName returns the tab part of an A1 range ("New codes!A1" -> "New codes").
func SheetName(range_ string) string {
	return strings.Split(range_, "!")[0]
}

// FullRange widens range_ to every column of its tab.
func FullRange(range_ string) string {
	return SheetName(range_) + "!A:Z"
}

// BuildExistingMap collects the trimmed values of column col for duplicate
// detection. Rows too short to carry the column are ignored.
func BuildExistingMap(existingData [][]interface{}, col int) map[string]bool {
	existing := make(map[string]bool)
	for _, row := range existingData {
		if key := ExtractStringField(row, col); key != "" {
			existing[key] = true
		}
	}
	log.Debug().Int("entries", len(existing)).Msg("Built existing entries map")
	return existing
}

// ExtractStringField safely extracts a trimmed string field from a row.
func ExtractStringField(row []interface{}, index int) string {
	if len(row) > index && row[index] != nil {
		return strings.TrimSpace(fmt.Sprintf("%v", row[index]))
	}
	return ""
}
