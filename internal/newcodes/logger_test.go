package newcodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"listing_f1s/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSheet struct {
	data     [][]interface{}
	readErr  error
	appended [][]interface{}
	updates  map[string][][]interface{}
	reads    []string
}

func (f *fakeSheet) ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error) {
	f.reads = append(f.reads, range_)
	return f.data, f.readErr
}

func (f *fakeSheet) AppendRows(ctx context.Context, spreadsheetID, range_ string, rows [][]interface{}) error {
	f.appended = append(f.appended, rows...)
	return nil
}

func (f *fakeSheet) UpdateRange(ctx context.Context, spreadsheetID, range_ string, values [][]interface{}) error {
	if f.updates == nil {
		f.updates = map[string][][]interface{}{}
	}
	f.updates[range_] = values
	return nil
}

func fixedLogger(w SheetWriter) *Logger {
	l := NewLogger(w, "sheet-id", "New codes!A1", "manomano")
	l.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return l
}

func TestLogSkipsKnownSKUs(t *testing.T) {
	sheet := &fakeSheet{data: [][]interface{}{
		Header,
		{"12345", "Oak shelf", "bol", "2026-01-01T00:00:00Z"},
	}}

	added, err := fixedLogger(sheet).Log(context.Background(), []pipeline.NewCodeRequest{
		{SKU: "12345", Description: "Oak shelf"},
		{SKU: "B-1", Description: "Brass hinge"},
		{SKU: "B-1", Description: "Brass hinge"},
		{SKU: " "},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"New codes!A:Z"}, sheet.reads)
	assert.Equal(t, [][]interface{}{{"B-1", "Brass hinge", "manomano", "2026-03-02T10:00:00Z"}}, sheet.appended)
	assert.Empty(t, sheet.updates)
}

func TestLogWritesHeaderToEmptySheet(t *testing.T) {
	sheet := &fakeSheet{}
	added, err := fixedLogger(sheet).Log(context.Background(), []pipeline.NewCodeRequest{{SKU: "A"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, [][]interface{}{Header}, sheet.updates["New codes!A1"])
}

func TestLogNothingToDo(t *testing.T) {
	sheet := &fakeSheet{readErr: errors.New("must not be called")}
	added, err := fixedLogger(sheet).Log(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Empty(t, sheet.reads)
}

func TestLogReadError(t *testing.T) {
	sheet := &fakeSheet{readErr: errors.New("quota exceeded")}
	_, err := fixedLogger(sheet).Log(context.Background(), []pipeline.NewCodeRequest{{SKU: "A"}})
	assert.ErrorContains(t, err, "quota exceeded")
}
