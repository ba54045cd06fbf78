package main

import (
	"log/slog"
	"time"

	"telepipe/internal/config"
	"telepipe/internal/coordinator"
	"telepipe/internal/notifications"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/retry"
	"telepipe/internal/runs"
	"telepipe/internal/stage"
	"telepipe/internal/stages"
	"telepipe/internal/warehouse"
)

const pipelineName = "telegram-analytics"

// buildPipeline declares the stage graph: scrape feeds load feeds transform,
// and enrich is an optional tail that tolerates a missing detector.
func buildPipeline(cfg *config.Config) (*pipeline.Graph, error) {
	stageTimeout := time.Duration(cfg.Pipeline.StageTimeout) * time.Second
	scrapeTimeout := time.Duration(cfg.Pipeline.ScrapeTimeout) * time.Second
	enrichTimeout := time.Duration(cfg.Pipeline.EnrichTimeout) * time.Second

	return pipeline.NewGraph(pipelineName,
		pipeline.StageSpec{
			Name:      "scrape",
			Resources: []string{resources.PlatformAPI, resources.DataDirs},
			Retryable: true,
			Timeout:   scrapeTimeout,
		},
		pipeline.StageSpec{
			Name:      "load",
			Needs:     []string{"scrape"},
			Resources: []string{resources.Database, resources.DataDirs},
			Retryable: true,
			Timeout:   stageTimeout,
		},
		pipeline.StageSpec{
			Name:      "transform",
			Needs:     []string{"load"},
			Resources: []string{resources.Database},
			Timeout:   stageTimeout,
		},
		pipeline.StageSpec{
			Name:      "enrich",
			Needs:     []string{"transform"},
			Resources: []string{resources.Database, resources.Detector},
			Optional:  true,
			Timeout:   enrichTimeout,
		},
	)
}

func buildHandlers(wh *warehouse.Store) map[string]stage.Handler {
	return map[string]stage.Handler{
		"scrape":    stages.NewScraper(),
		"load":      stages.NewLoader(wh),
		"transform": stages.NewTransformer(wh),
		"enrich":    stages.NewEnricher(wh),
	}
}

func buildCoordinator(cfg *config.Config, runStore *runs.Store, wh *warehouse.Store, logger *slog.Logger) (*coordinator.Coordinator, error) {
	graph, err := buildPipeline(cfg)
	if err != nil {
		return nil, err
	}

	runner := stage.NewRunner(logger)
	policy := retry.NewPolicy(runner, logger,
		cfg.Pipeline.MaxRetries,
		time.Duration(cfg.Pipeline.RetryBaseDelayMS)*time.Millisecond,
		time.Duration(cfg.Pipeline.RetryMaxDelayMS)*time.Millisecond,
	)
	provider := resources.NewProvider(cfg)
	notifier := notifications.NewService(cfg)

	return coordinator.New(graph, buildHandlers(wh), policy, runStore, provider, notifier, logger), nil
}
