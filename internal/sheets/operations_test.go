package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildExistingMap(t *testing.T) {
	data := [][]interface{}{
		{"Seller SKU", "Sku description"},
		{" 12345 ", "Oak shelf"},
		{},
		{nil, "orphan"},
		{67890},
	}
	assert.Equal(t, map[string]bool{"Seller SKU": true, "12345": true, "67890": true}, BuildExistingMap(data, 0))
	assert.Equal(t, map[string]bool{"Sku description": true, "Oak shelf": true, "orphan": true}, BuildExistingMap(data, 1))
}

func TestRanges(t *testing.T) {
	assert.Equal(t, "New codes", SheetName("New codes!A1"))
	assert.Equal(t, "Sheet1", SheetName("Sheet1"))
	assert.Equal(t, "New codes!A:Z", FullRange("New codes!B2:C9"))
}
