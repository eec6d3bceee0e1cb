// Package reference loads the lookup tables joined onto listing rows.
package reference

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"listing_f1s/internal/retry"

	"github.com/rs/zerolog/log"
)

// Source yields a table's raw records, header rows included.
type Source interface {
	Records(ctx context.Context) ([][]string, error)
}

// HTTPSource reads a published CSV over HTTP.
type HTTPSource struct {
	URL    string
	client *http.Client
	retry  retry.Config
}

func NewHTTPSource(url string, cfg retry.Config) *HTTPSource {
	return &HTTPSource{
		URL: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: cfg,
	}
}

func (s *HTTPSource) Records(ctx context.Context) ([][]string, error) {
	body, err := retry.WithRetry(ctx, s.retry, s.fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference %s: %w", s.URL, err)
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference %s: %w", s.URL, err)
	}
	log.Debug().Str("url", s.URL).Int("records", len(records)).Msg("Fetched reference table")
	return records, nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reference request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// SheetReader is the subset of the Google Sheets client used here.
type SheetReader interface {
	ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error)
}

// SheetsSource reads a range through the Google Sheets API.
type SheetsSource struct {
	Reader        SheetReader
	SpreadsheetID string
	Range         string
}

func (s *SheetsSource) Records(ctx context.Context) ([][]string, error) {
	values, err := s.Reader.ReadSheet(ctx, s.SpreadsheetID, s.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference range %q: %w", s.Range, err)
	}
	records := make([][]string, len(values))
	for i, row := range values {
		rec := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				rec[j] = fmt.Sprintf("%v", v)
			}
		}
		records[i] = rec
	}
	log.Debug().Str("range", s.Range).Int("records", len(records)).Msg("Read reference range")
	return records, nil
}
