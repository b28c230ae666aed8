// Package app wires the pipeline from configuration for the command binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/intrastat-extractor/internal/assemble"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/fx"
	"github.com/joseph-ayodele/intrastat-extractor/internal/layout"
	"github.com/joseph-ayodele/intrastat-extractor/internal/locator"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pagetext"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pipeline"
	"github.com/joseph-ayodele/intrastat-extractor/internal/repository"
	"github.com/joseph-ayodele/intrastat-extractor/internal/workbook"
)

// App holds the long-lived components of a process.
type App struct {
	Config  *common.Config
	Profile *layout.Profile
	Source  pagetext.Source
	Locator *locator.Locator
	Runner  *pipeline.Runner
	Ledger  *repository.Ledger
	Rates   *fx.Cache

	db    *repository.DB
	store *fx.Store
	log   *slog.Logger
}

// Options toggle the optional stores.
type Options struct {
	WithLedger bool
	WithStore  bool
}

// Build constructs every component described by cfg.
func Build(ctx context.Context, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := layout.Load(cfg.Pipeline.LayoutPath)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "load layout", err)
	}
	a := &App{Config: cfg, Profile: profile, log: logger}

	a.Source = Source(cfg.Pipeline, logger)
	a.Locator = locator.New(profile, logger)

	a.Rates = fx.NewCache(cfg.FX.CacheCapacity)
	convOpts := []fx.ConverterOption{fx.WithRetry(cfg.FX.Timeout, cfg.FX.Retries, cfg.FX.Backoff)}
	if opts.WithStore && cfg.FX.StorePath != "" {
		store, err := fx.OpenStore(cfg.FX.StorePath)
		if err != nil {
			a.Close()
			return nil, common.NewAppError(common.CodePersistenceFailure, "open rate store", err)
		}
		a.store = store
		n, err := store.Warm(a.Rates)
		if err != nil {
			logger.Warn("fx.store.warm_failed", "error", err)
		}
		logger.Info("fx.store.warm", "entries", n)
		convOpts = append(convOpts, fx.WithStore(store))
	}
	ecb := fx.NewECBClient(cfg.FX.BaseURL, logger,
		fx.WithHTTPClient(&http.Client{Timeout: cfg.FX.Timeout}),
		fx.WithRateLimit(cfg.FX.RatePerSecond),
		fx.WithLookback(cfg.FX.LookbackDays),
	)
	converter := fx.NewConverter(ecb, a.Rates, cfg.Pipeline.TargetCurrency, logger, convOpts...)

	sink := pipeline.MultiSink{pipeline.LogSink{Logger: logger}}
	runnerOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithDocumentTimeout(cfg.Pipeline.DocumentTimeout),
	}
	if opts.WithLedger {
		db, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.Ledger = repository.NewLedger(db, logger)
		if err := a.Ledger.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		sink = append(sink, a.Ledger)
		runnerOpts = append(runnerOpts, pipeline.WithLedger(a.Ledger))
	}

	proc := pipeline.NewProcessor(a.Source, a.Locator, assemble.New(profile, logger), converter, sink, logger)
	merger := workbook.NewMerger(profile, cfg.Output.Sheet, logger)
	a.Runner = pipeline.NewRunner(proc, merger, logger, runnerOpts...)
	return a, nil
}

// Source returns the page text source: the native reader, backed by
// pdftotext when the fallback is enabled.
func Source(cfg common.PipelineConfig, logger *slog.Logger) pagetext.Source {
	native := pagetext.NewNativeSource(logger)
	if !cfg.PopplerFallback {
		return native
	}
	return pagetext.FallbackSource{
		Primary:   native,
		Secondary: pagetext.NewPopplerSource(pagetext.PopplerConfig{}, logger),
		Logger:    logger,
	}
}

// HealthCheck reports whether the ledger database answers.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.HealthCheck(ctx, a.Config.Database.DialTimeout); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("fx.store.close_error", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close(a.log)
	}
}
