package main

import (
	"context"
	"fmt"

	"listing_f1s/internal/app"
	"listing_f1s/internal/newcodes"
	"listing_f1s/internal/notifications"
	"listing_f1s/internal/pipeline"
	"listing_f1s/internal/tasks"

	"github.com/rs/zerolog/log"
)

// runner holds the collaborators of one run.
type runner struct {
	cfg       app.Config
	pipeline  *pipeline.Pipeline
	publisher *tasks.Publisher
	newCodes  *newcodes.Logger
	notifier  *notifications.Client
}

func newRunner(ctx context.Context, cfg app.Config) (*runner, error) {
	log.Debug().Msg("Initializing clients")

	sheetsClient, err := app.InitializeSheetsClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	var fetcher pipeline.RatingFetcher
	if cfg.ClientID != "" {
		fetcher = app.InitializeRatingClient(cfg)
	}

	r := &runner{
		cfg:      cfg,
		notifier: app.InitializeNotificationClient(cfg),
	}

	var titles pipeline.TitleSource
	if tasksClient := app.InitializeTasksClient(cfg); tasksClient != nil {
		if cfg.CreateTasks {
			r.publisher = tasks.NewPublisher(tasksClient, cfg.Market)
		}
		if cfg.DedupeTasks {
			titles = &tasks.Titles{Sink: tasksClient, Market: cfg.Market}
		}
	}

	if cfg.NewCodesSpreadsheetID != "" && sheetsClient != nil {
		r.newCodes = newcodes.NewLogger(sheetsClient, cfg.NewCodesSpreadsheetID, cfg.NewCodesRange, cfg.Market.Name)
	}

	r.pipeline = pipeline.New(cfg.Market, fetcher, app.InitializeReferenceLoader(cfg, sheetsClient), titles)

	log.Debug().
		Bool("rating_api", fetcher != nil).
		Bool("publish_tasks", r.publisher != nil).
		Bool("dedupe_tasks", titles != nil).
		Bool("log_new_codes", r.newCodes != nil).
		Msg("Clients initialized successfully")
	return r, nil
}
