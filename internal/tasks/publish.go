package tasks

import (
	"context"
	"fmt"
	"strings"

	"listing_f1s/internal/config"
	"listing_f1s/internal/metrics"
	"listing_f1s/internal/workbook"

	"github.com/rs/zerolog/log"
)

// TaskColumns is the header of every sheet in the attached workbook.
var TaskColumns = []string{"Task", "SKU to be F1", "New F1 SKU", "Existing F1 EAN", "New F1 Barcode", "New F1 Brand"}

// BuildTaskWorkbook keeps the rows that received a barcode and lays them out
// as task lines. Sheets with no such row are left out.
func BuildTaskWorkbook(wb workbook.Workbook) []workbook.Table {
	var tables []workbook.Table
	for _, s := range wb.Sheets {
		t := workbook.Table{Name: s.Name, Header: TaskColumns}
		for _, r := range s.Rows {
			barcode := strings.TrimLeft(r.Barcode, "'")
			if barcode == "" {
				continue
			}
			t.Rows = append(t.Rows, []interface{}{
				workbook.TaskTitle(r),
				r.SKU,
				r.Substitute,
				r.EAN,
				barcode,
				r.Brand,
			})
		}
		if len(t.Rows) > 0 {
			tables = append(tables, t)
		}
	}
	return tables
}

type Publisher struct {
	sink   Sink
	market config.Marketplace
}

func NewPublisher(sink Sink, market config.Marketplace) *Publisher {
	return &Publisher{sink: sink, market: market}
}

// PublishResult maps target labels to created task ids and failures.
type PublishResult struct {
	Lines   int
	Created map[string]string
	Failed  map[string]error
}

// Publish files one summary task per configured target, each carrying the
// task workbook. A failing target does not stop the others.
func (p *Publisher) Publish(ctx context.Context, wb workbook.Workbook) (PublishResult, error) {
	res := PublishResult{Created: map[string]string{}, Failed: map[string]error{}}

	tables := BuildTaskWorkbook(wb)
	for _, t := range tables {
		res.Lines += len(t.Rows)
	}
	if res.Lines == 0 {
		log.Info().Str("marketplace", p.market.Name).Msg("No rows with a barcode; no task to publish")
		return res, nil
	}
	if len(p.market.Targets) == 0 {
		log.Info().Str("marketplace", p.market.Name).Msg("Marketplace has no task targets configured")
		return res, nil
	}

	attachment, err := workbook.Encode(tables)
	if err != nil {
		return res, fmt.Errorf("failed to build task workbook: %w", err)
	}

	for _, target := range p.market.Targets {
		gid, err := p.publishTo(ctx, target, attachment)
		if err != nil {
			res.Failed[target.Label] = err
			log.Error().Err(err).Str("target", target.Label).Str("project", target.ProjectID).Msg("Failed to publish task")
			continue
		}
		res.Created[target.Label] = gid
		metrics.TasksCreated.Inc()
		log.Info().Str("target", target.Label).Str("task", gid).Int("lines", res.Lines).Msg("Published F1 task")
	}
	return res, nil
}

func (p *Publisher) publishTo(ctx context.Context, target config.TaskTarget, attachment []byte) (string, error) {
	gid, err := p.sink.CreateTask(ctx, NewTask{
		ProjectIDs: []string{target.ProjectID},
		Name:       p.market.TaskName,
		HTMLNotes:  p.market.TaskNotes,
		TagIDs:     target.TagIDs,
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if target.SectionID != "" {
		if err := p.sink.AddToSection(ctx, target.SectionID, gid); err != nil {
			return gid, fmt.Errorf("move task %s to section: %w", gid, err)
		}
	}
	if err := p.sink.Attach(ctx, gid, p.market.AttachmentName, workbook.ContentType, attachment); err != nil {
		return gid, fmt.Errorf("attach workbook to task %s: %w", gid, err)
	}
	return gid, nil
}

// Titles adapts a Sink to the pipeline's title lookup across the
// marketplace's projects.
type Titles struct {
	Sink   Sink
	Market config.Marketplace
}

func (t *Titles) ExistingTitles(ctx context.Context) (map[string]bool, error) {
	existing := map[string]bool{}
	for _, target := range t.Market.Targets {
		titles, err := t.Sink.ExistingTitles(ctx, target.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", target.ProjectID, err)
		}
		for _, title := range titles {
			existing[title] = true
		}
	}
	return existing, nil
}
