package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"listing_f1s/internal/app"
	"listing_f1s/internal/listing"
	"listing_f1s/internal/metrics"
	"listing_f1s/internal/notifications"
	"listing_f1s/internal/pipeline"
	"listing_f1s/internal/reference"
	"listing_f1s/internal/storage"
	"listing_f1s/internal/workbook"

	"github.com/rs/zerolog/log"
)

func main() {
	app.SetupEnvironment()
	log.Debug().Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	metrics.Init()
	if addr := metrics.AddrFromEnv(); addr != "" {
		go func() {
			log.Info().Str("addr", addr).Msg("Serving metrics")
			if err := metrics.Serve(addr); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	r, err := newRunner(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize clients")
	}

	req, err := readInputs(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read inputs")
	}

	r.run(ctx, req)
}

func readInputs(ctx context.Context, cfg app.Config) (pipeline.Request, error) {
	data, err := storage.Read(ctx, cfg.ListingURI)
	if err != nil {
		return pipeline.Request{}, err
	}
	rows, err := listing.Read(data, cfg.Market.Listing)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("listing %s: %w", cfg.ListingURI, err)
	}
	req := pipeline.Request{Listing: rows, Accumulator: pipeline.NewAccumulator()}

	if cfg.BarcodeURI == "" {
		log.Warn().Msg("BARCODE_URI not set; the run will stop before the barcode join")
		return req, nil
	}
	req.Barcodes, req.BarcodeErr = loadBarcodes(ctx, cfg)
	if req.BarcodeErr != nil {
		log.Error().Err(req.BarcodeErr).Str("uri", cfg.BarcodeURI).Msg("Failed to load barcodes; the run will stop before the barcode join")
	}
	return req, nil
}

func loadBarcodes(ctx context.Context, cfg app.Config) (*reference.Barcodes, error) {
	data, err := storage.Read(ctx, cfg.BarcodeURI)
	if err != nil {
		return nil, err
	}
	barcodes, err := reference.LoadBarcodes(data, cfg.Market.BarcodeHeaderRow)
	if err != nil {
		return nil, fmt.Errorf("barcodes %s: %w", cfg.BarcodeURI, err)
	}
	return barcodes, nil
}

// run executes the pipeline and every hand-off after it. Failures past this
// point are reported, not fatal.
func (r *runner) run(ctx context.Context, req pipeline.Request) {
	result := r.pipeline.Run(ctx, req)

	var notices []string
	for _, n := range result.Notices {
		notices = append(notices, n.String())
	}

	summary := notifications.RunSummary{
		Marketplace: r.cfg.Market.Name,
		Stage:       result.Stage().String(),
		Complete:    result.Complete(),
		Listed:      result.Stats.Listed,
		Retained:    result.Stats.Retained,
		Sheets:      len(result.Workbook.Sheets),
		NewCodes:    result.Accumulator.Len(),
	}

	if err := r.store(ctx, result); err != nil {
		log.Error().Err(err).Str("uri", r.cfg.OutputURI).Msg("Failed to store workbook")
		notices = append(notices, "output: "+err.Error())
	} else {
		summary.OutputURI = r.cfg.OutputURI
	}

	if r.newCodes != nil {
		if _, err := r.newCodes.Log(ctx, result.Accumulator.Requests()); err != nil {
			log.Error().Err(err).Msg("Failed to log new code requests")
			notices = append(notices, "new codes: "+err.Error())
		}
	}

	if r.publisher != nil {
		switch {
		case result.Stage() != workbook.Final:
			log.Warn().Str("stage", result.Stage().String()).Msg("Run did not reach the final stage; not publishing tasks")
		default:
			published, err := r.publisher.Publish(ctx, result.Workbook)
			if err != nil {
				log.Error().Err(err).Msg("Failed to publish tasks")
				notices = append(notices, "tasks: "+err.Error())
			}
			summary.Tasks = len(published.Created)
			for label, err := range published.Failed {
				notices = append(notices, fmt.Sprintf("tasks [%s]: %v", label, err))
			}
		}
	}

	summary.Notices = notices
	if err := r.notifier.NotifyRun(ctx, summary); err != nil {
		log.Warn().Err(err).Msg("Failed to send run summary")
	}

	log.Info().
		Str("marketplace", summary.Marketplace).
		Str("stage", summary.Stage).
		Bool("complete", summary.Complete).
		Int("retained", summary.Retained).
		Int("new_codes", summary.NewCodes).
		Int("tasks", summary.Tasks).
		Int("notices", len(notices)).
		Dur("rating_backoff", result.Stats.Backoff).
		Msg("Run complete")
}

func (r *runner) store(ctx context.Context, result *pipeline.Result) error {
	data, err := workbook.Encode(result.Tables())
	if err != nil {
		return fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := storage.Write(ctx, r.cfg.OutputURI, data, workbook.ContentType); err != nil {
		return err
	}
	log.Info().
		Str("uri", r.cfg.OutputURI).
		Str("stage", result.Stage().String()).
		Int("rows", result.Workbook.RowCount()).
		Int("halted_sheets", len(result.Halted)).
		Msg("Stored workbook")
	return nil
}
