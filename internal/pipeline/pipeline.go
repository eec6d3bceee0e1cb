// Package pipeline turns a marketplace listing into the enriched F1
// workbook. Each stage consumes the previous workbook and returns a new one:
//
//	Raw -> RatingFiltered -> DescriptionJoined -> SubstituteJoined -> BarcodeJoined -> Final
//
// A sheet that fails a stage stops there and is reported in Result.Halted;
// a stage that cannot start at all ends the run, leaving Result.Workbook at
// the last stage that completed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"listing_f1s/internal/config"
	"listing_f1s/internal/listing"
	"listing_f1s/internal/metrics"
	"listing_f1s/internal/ratings"
	"listing_f1s/internal/reference"
	"listing_f1s/internal/workbook"

	"github.com/rs/zerolog/log"
)

const defaultSheet = "Sheet1"

// RatingFetcher returns the typed rating outcome for one identifier.
type RatingFetcher interface {
	Fetch(ctx context.Context, ean string) ratings.Result
}

// ReferenceLoader fetches the lookup tables for one run.
type ReferenceLoader interface {
	LoadDescriptions(ctx context.Context) (*reference.Descriptions, error)
	LoadSubstitutes(ctx context.Context) (*reference.Substitutes, error)
}

// TitleSource lists task titles that already exist downstream.
type TitleSource interface {
	ExistingTitles(ctx context.Context) (map[string]bool, error)
}

type Pipeline struct {
	market  config.Marketplace
	ratings RatingFetcher
	refs    ReferenceLoader
	titles  TitleSource
}

// New builds a pipeline for market. fetcher may be nil for marketplaces that
// carry ratings in the export, and titles may be nil to skip deduplication.
func New(market config.Marketplace, fetcher RatingFetcher, refs ReferenceLoader, titles TitleSource) *Pipeline {
	return &Pipeline{market: market, ratings: fetcher, refs: refs, titles: titles}
}

type Request struct {
	Listing []listing.Row
	// Barcodes is the uploaded barcode table. Without it the run stops at
	// SubstituteJoined.
	Barcodes *reference.Barcodes
	// BarcodeErr explains why Barcodes is nil when the upload could not be read.
	BarcodeErr  error
	Accumulator *Accumulator
}

// Notice is a user-facing message about a stage or sheet that did not complete.
type Notice struct {
	Stage   workbook.Stage
	Sheet   string
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Sheet == "" {
		return fmt.Sprintf("%s: %s", n.Stage, n.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", n.Stage, n.Sheet, n.Message)
}

// HaltedSheet is the last good version of a sheet that failed a later stage.
type HaltedSheet struct {
	Stage workbook.Stage
	Sheet workbook.Sheet
}

type Stats struct {
	Listed       int
	Retained     int
	Found        int
	Absent       int
	Failed       int
	Backoff      time.Duration
	Described    int
	Substituted  int
	Barcoded     int
	Deduplicated int
}

type Result struct {
	Workbook    workbook.Workbook
	Halted      []HaltedSheet
	Notices     []Notice
	Accumulator *Accumulator
	Stats       Stats
}

// Stage is the furthest stage the workbook reached.
func (r *Result) Stage() workbook.Stage { return r.Workbook.Stage }

// Complete reports whether the run reached Final without notices.
func (r *Result) Complete() bool {
	return r.Workbook.Stage == workbook.Final && len(r.Notices) == 0
}

func (r *Result) notice(stage workbook.Stage, sheet string, err error) {
	n := Notice{Stage: stage, Sheet: sheet, Message: err.Error(), Err: err}
	r.Notices = append(r.Notices, n)
	metrics.StageFailures.WithLabelValues(stage.String()).Inc()
	log.Error().Err(err).Str("stage", stage.String()).Str("sheet", sheet).Msg("Stage did not complete")
}

// Run drives the listing through every stage. It never returns an error;
// problems are reported as Notices on the Result.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	res := &Result{
		Workbook:    raw(req.Listing, p.market.Listing.Platform != ""),
		Accumulator: req.Accumulator.Clone(),
	}
	res.Stats.Listed = len(req.Listing)

	log.Info().
		Str("marketplace", p.market.Name).
		Int("rows", res.Stats.Listed).
		Int("sheets", len(res.Workbook.Sheets)).
		Msg("Starting enrichment")

	steps := []struct {
		to      workbook.Stage
		prepare func(ctx context.Context, res *Result) (sheetFunc, error)
		tally   tallyFunc
	}{
		{workbook.RatingFiltered, p.ratingStage, nil},
		{workbook.DescriptionJoined, p.descriptionStage, countDescribed},
		{workbook.SubstituteJoined, p.substituteStage, collectNewCodes},
		{workbook.BarcodeJoined, func(ctx context.Context, res *Result) (sheetFunc, error) {
			return barcodeStage(req.Barcodes, req.BarcodeErr)
		}, countBarcoded},
		{workbook.Final, p.finalStage, countDeduplicated},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			res.notice(step.to, "", fmt.Errorf("run cancelled: %w", err))
			break
		}
		fn, err := guard(func() (sheetFunc, error) { return step.prepare(ctx, res) })
		if err != nil {
			res.notice(step.to, "", err)
			break
		}
		res.advance(ctx, step.to, fn, step.tally)
		log.Info().
			Str("stage", step.to.String()).
			Int("rows", res.Workbook.RowCount()).
			Int("sheets", len(res.Workbook.Sheets)).
			Msg("Stage complete")
	}

	res.Stats.Retained = res.Workbook.RowCount()
	metrics.RowsRetained.Add(float64(res.Stats.Retained))
	log.Info().
		Str("stage", res.Workbook.Stage.String()).
		Int("retained", res.Stats.Retained).
		Int("notices", len(res.Notices)).
		Int("new_codes", res.Accumulator.Len()).
		Msg("Enrichment finished")
	return res
}

type sheetFunc func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error)

// tallyFunc records what a stage did to one sheet. It only sees sheets that
// completed the stage.
type tallyFunc func(r *Result, before, after workbook.Sheet)

// advance applies fn to a copy of every sheet. Sheets that fail are moved to
// Halted in their previous form and are not tallied.
func (r *Result) advance(ctx context.Context, to workbook.Stage, fn sheetFunc, tally tallyFunc) {
	prev := r.Workbook.Clone()
	next := workbook.Workbook{Stage: to, Sheets: make([]workbook.Sheet, 0, len(prev.Sheets))}
	for _, s := range prev.Sheets {
		out, err := guard(func() (workbook.Sheet, error) {
			in := workbook.Sheet{Name: s.Name, Rows: append([]workbook.Row(nil), s.Rows...)}
			return fn(ctx, in)
		})
		if err != nil {
			r.notice(to, s.Name, err)
			r.Halted = append(r.Halted, HaltedSheet{Stage: prev.Stage, Sheet: s})
			continue
		}
		if tally != nil {
			tally(r, s, out)
		}
		next.Sheets = append(next.Sheets, out)
	}
	r.Workbook = next
}

// guard converts a panic in fn into an error.
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unexpected failure: %v", rec)
		}
	}()
	return fn()
}

// raw seeds the workbook from the listing, one sheet per platform when grouped.
func raw(rows []listing.Row, grouped bool) workbook.Workbook {
	wb := workbook.Workbook{Stage: workbook.Raw}
	if !grouped {
		sheet := workbook.Sheet{Name: defaultSheet}
		for _, r := range rows {
			sheet.Rows = append(sheet.Rows, fromListing(r))
		}
		wb.Sheets = []workbook.Sheet{sheet}
		return wb
	}

	byPlatform := map[string][]workbook.Row{}
	for _, r := range rows {
		name := r.Platform
		if name == "" {
			name = defaultSheet
		}
		byPlatform[name] = append(byPlatform[name], fromListing(r))
	}
	names := make([]string, 0, len(byPlatform))
	for name := range byPlatform {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		wb.Sheets = append(wb.Sheets, workbook.Sheet{Name: name, Rows: byPlatform[name]})
	}
	return wb
}

func fromListing(r listing.Row) workbook.Row {
	return workbook.Row{EAN: r.EAN, SKU: r.SKU, ID: r.ID, Platform: r.Platform, Rating: r.Rating}
}

var errNoFetcher = errors.New("marketplace rates via API but no rating fetcher is configured")

func (p *Pipeline) ratingStage(ctx context.Context, res *Result) (sheetFunc, error) {
	switch p.market.RatingSource {
	case config.RatingFromColumn:
		low, high := p.market.RatingLow, p.market.RatingHigh
		return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
			kept := s.Rows[:0]
			for _, row := range s.Rows {
				if row.Rating > low && row.Rating < high {
					kept = append(kept, row)
				}
			}
			s.Rows = kept
			return s, nil
		}, nil
	case config.RatingFromAPI:
		if p.ratings == nil {
			return nil, errNoFetcher
		}
		return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
			kept := s.Rows[:0]
			for _, row := range s.Rows {
				if err := ctx.Err(); err != nil {
					return workbook.Sheet{}, err
				}
				result := p.ratings.Fetch(ctx, row.EAN)
				res.Stats.record(result)
				if result.Outcome != ratings.Found {
					continue
				}
				lowest, ok := ratings.MinQualifying(result.Ratings)
				if !ok {
					log.Debug().Str("ean", row.EAN).Msg("No qualifying rating; dropping row")
					continue
				}
				row.Rating = float64(lowest)
				kept = append(kept, row)
			}
			s.Rows = kept
			return s, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown rating source %q", p.market.RatingSource)
	}
}

func (s *Stats) record(r ratings.Result) {
	s.Backoff += r.Backoff
	switch r.Outcome {
	case ratings.Found:
		s.Found++
	case ratings.Absent:
		s.Absent++
	default:
		s.Failed++
	}
}

func (p *Pipeline) descriptionStage(ctx context.Context, _ *Result) (sheetFunc, error) {
	descriptions, err := p.refs.LoadDescriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptions: %w", err)
	}
	return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
		for i := range s.Rows {
			if desc, ok := descriptions.Lookup(s.Rows[i].SKU); ok {
				s.Rows[i].Description = desc
			}
		}
		return s, nil
	}, nil
}

func (p *Pipeline) substituteStage(ctx context.Context, _ *Result) (sheetFunc, error) {
	substitutes, err := p.refs.LoadSubstitutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load substitutes: %w", err)
	}
	return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
		for i := range s.Rows {
			if sub, ok := substitutes.Lookup(s.Rows[i].SKU); ok {
				s.Rows[i].Substitute = sub
			}
		}
		return s, nil
	}, nil
}

var errNoBarcodes = errors.New("no barcode table supplied")

func barcodeStage(barcodes *reference.Barcodes, loadErr error) (sheetFunc, error) {
	if barcodes == nil {
		if loadErr != nil {
			return nil, fmt.Errorf("%w: %w", errNoBarcodes, loadErr)
		}
		return nil, errNoBarcodes
	}
	return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
		for i := range s.Rows {
			row := &s.Rows[i]
			if row.Substitute == "" {
				continue
			}
			if bc, ok := barcodes.Lookup(row.Substitute); ok {
				row.Barcode, row.Brand = bc.Number, bc.Brand
			}
		}
		return s, nil
	}, nil
}

func (p *Pipeline) finalStage(ctx context.Context, _ *Result) (sheetFunc, error) {
	if p.titles == nil {
		return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) { return s, nil }, nil
	}
	existing, err := p.titles.ExistingTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing tasks: %w", err)
	}
	return func(ctx context.Context, s workbook.Sheet) (workbook.Sheet, error) {
		kept := s.Rows[:0]
		for _, row := range s.Rows {
			if existing[workbook.TaskTitle(row)] {
				log.Debug().Str("sku", row.SKU).Msg("Task already exists; dropping row")
				continue
			}
			kept = append(kept, row)
		}
		s.Rows = kept
		return s, nil
	}, nil
}

func countDescribed(r *Result, _, after workbook.Sheet) {
	for _, row := range after.Rows {
		if row.Description != "" {
			r.Stats.Described++
		}
	}
}

// collectNewCodes counts substituted rows and queues every other SKU for a
// new code.
func collectNewCodes(r *Result, _, after workbook.Sheet) {
	for _, row := range after.Rows {
		if row.Substitute != "" {
			r.Stats.Substituted++
			continue
		}
		if r.Accumulator.Add(NewCodeRequest{SKU: row.SKU, Description: row.Description}) {
			log.Debug().Str("sku", row.SKU).Msg("No substitute; new code needed")
		}
	}
}

func countBarcoded(r *Result, _, after workbook.Sheet) {
	for _, row := range after.Rows {
		if row.Barcode != "" {
			r.Stats.Barcoded++
		}
	}
}

func countDeduplicated(r *Result, before, after workbook.Sheet) {
	r.Stats.Deduplicated += len(before.Rows) - len(after.Rows)
}

// Tables renders the workbook followed by every halted sheet at the stage it
// last completed.
func (r *Result) Tables() []workbook.Table {
	tables := r.Workbook.Tables()
	for _, h := range r.Halted {
		wb := workbook.Workbook{Stage: h.Stage, Sheets: []workbook.Sheet{h.Sheet}}
		tables = append(tables, wb.Tables()...)
	}
	return tables
}
