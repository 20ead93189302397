package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/autopost/internal/config"
	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/enhance"
	"github.com/kalambet/autopost/internal/gather"
	"github.com/kalambet/autopost/internal/llm"
	"github.com/kalambet/autopost/internal/orchestrator"
	"github.com/kalambet/autopost/internal/pipeline"
	"github.com/kalambet/autopost/internal/publish"
	"github.com/kalambet/autopost/internal/rotation"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
	"github.com/kalambet/autopost/internal/synth"
)

// app holds the daemon's wired components.
type app struct {
	cfg       config.Config
	store     *storage.Store
	engine    llm.Engine
	enhancer  *enhance.Client
	publisher *publish.LinkedIn
	catalog   gather.Catalog
	orch      *orchestrator.Orchestrator
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	kinds, err := content.ParseKinds(cfg.Rotation.ContentTypes)
	if err != nil {
		return nil, fmt.Errorf("rotation.content_types: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, store: store}

	ok := false
	defer func() {
		if !ok {
			store.Close()
		}
	}()

	rot, err := rotation.New(
		rotation.NewFileStore(cfg.Storage.DataDir),
		rotation.State{Topics: cfg.Rotation.Topics, ContentTypes: kinds},
		rotation.WithTopicAdvanceProbability(cfg.Rotation.TopicAdvanceProbability),
	)
	if err != nil {
		return nil, err
	}

	a.engine, err = llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		OllamaBaseURL:   cfg.LLM.OllamaBaseURL,
		Model:           cfg.LLM.Model,
		OpenRouterModel: cfg.LLM.OpenRouterModel,
		OpenRouterKey:   cfg.LLM.OpenRouterKey,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring llm: %w", err)
	}

	a.catalog, err = gather.LoadCatalog(cfg.Gather.CatalogPath)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	gatherer := gather.FromCatalog(a.catalog, httpClient, cfg.Gather.RequestsPerSecond,
		gather.WithConcurrency(cfg.Gather.Concurrency),
		gather.WithLogger(logger.With("component", "gather")),
	)

	a.publisher = publish.NewLinkedIn(cfg.LinkedIn.BaseURL, cfg.LinkedIn.AccessToken, cfg.LinkedIn.AuthorURN)

	opts := []pipeline.Option{
		pipeline.WithMaxSources(cfg.Pipeline.MaxSources),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	}
	if cfg.Enhance.Enabled {
		a.enhancer = enhance.New(cfg.Enhance.BaseURL, cfg.Enhance.APIKey)
		opts = append(opts, pipeline.WithEnhancer(a.enhancer))
	}
	syn := synth.New(a.engine, store, logger.With("component", "synth"))
	runner := pipeline.NewRunner(gatherer, syn, a.publisher, opts...)

	a.orch, err = orchestrator.New(rot, schedule.NewTableStore(cfg.Storage.DataDir), runner,
		orchestrator.WithConfig(orchestrator.Config{
			TickInterval:         cfg.Scheduler.TickInterval,
			AuthFailureThreshold: cfg.Pipeline.AuthFailureThreshold,
			RateLimitBackoff:     cfg.Pipeline.RateLimitBackoff,
		}),
		orchestrator.WithHistory(store),
		orchestrator.WithLogger(logger.With("component", "scheduler")),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// check is one diagnostic run by doctor and at daemon start.
type check struct {
	name string
	fn   func(ctx context.Context) error
}

func (a *app) checks() []check {
	cs := []check{
		{"LLM (" + a.engine.Name() + ")", a.engine.Ping},
		{"LinkedIn credentials", a.publisher.Validate},
		{"History store", func(context.Context) error {
			_, err := a.store.AppliedMigrations()
			return err
		}},
		{"Source catalog", func(context.Context) error {
			if len(a.catalog.Feeds) == 0 && len(a.catalog.Subreddits) == 0 && !a.catalog.HackerNews {
				return fmt.Errorf("no source backends configured")
			}
			return nil
		}},
	}
	if a.enhancer != nil {
		cs = append(cs, check{"Enhancement service", a.enhancer.Ping})
	}
	return cs
}

// runChecks runs every check with a shared timeout and reports how many
// failed.
func runChecks(ctx context.Context, cs []check) int {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	failed := 0
	for _, c := range cs {
		if err := c.fn(ctx); err != nil {
			printError("%s: %v", c.name, err)
			failed++
			continue
		}
		printSuccess("%s", c.name)
	}
	return failed
}
