package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ornabmomin/poem-api/cache"
	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/engine"
	"github.com/ornabmomin/poem-api/metrics"
	"github.com/ornabmomin/poem-api/models"
	"github.com/ornabmomin/poem-api/scraper"
	"github.com/ornabmomin/poem-api/webhook"
)

// app holds the long-lived components shared by serve and episodes.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *engine.Pool
	cache    *cache.Cache[[]models.Episode]
	metrics  *metrics.Collector
	notifier *webhook.Notifier
	orch     *scraper.Orchestrator
}

// loadConfig reads and validates configuration from the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFactory selects the session factory named by cfg.Browser.Engine.
func newFactory(cfg config.BrowserConfig, logger *slog.Logger) engine.Factory {
	if cfg.Engine == "static" {
		return engine.NewStaticFactory(cfg.Proxy)
	}
	return engine.NewRodFactory(engine.RodOptions{
		Headless:         cfg.Headless,
		NoSandbox:        cfg.NoSandbox,
		BrowserBin:       cfg.BrowserBin,
		Proxy:            cfg.Proxy,
		Stealth:          cfg.Stealth,
		BlockedResources: cfg.BlockedResources,
		BlockTrackers:    cfg.BlockTrackers,
	}, logger)
}

// newApp wires every component. withMetrics also registers the
// Prometheus collector as the pool and orchestrator observer.
func newApp(cfg *config.Config, logger *slog.Logger, withMetrics bool) *app {
	a := &app{cfg: cfg, logger: logger}

	var (
		poolObserver   engine.Observer = engine.NopObserver{}
		scrapeObserver scraper.Observer
	)
	if withMetrics {
		a.metrics = metrics.New(metrics.DefaultNamespace, logger)
		poolObserver = a.metrics
		scrapeObserver = a.metrics
	}

	factory := newFactory(cfg.Browser, logger.With("component", "engine"))
	a.pool = engine.NewPool(engine.PoolConfig{
		Min:             cfg.Pool.Min,
		Max:             cfg.Pool.Max,
		IdleTimeout:     cfg.Pool.IdleTimeout,
		AcquireTimeout:  cfg.Pool.AcquireTimeout,
		ReclaimInterval: cfg.Pool.ReclaimInterval,
	}, factory, poolObserver, logger.With("component", "pool"))

	a.cache = cache.New[[]models.Episode](cache.Options{
		Enabled:         cfg.Cache.Enabled,
		DefaultTTL:      cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Logger:          logger.With("component", "cache"),
	})

	if a.metrics != nil {
		a.metrics.WatchPool(a.pool.Stats)
		a.metrics.WatchCache(a.cache.Stats)
	}

	opts := scraper.Options{
		Pool:  a.pool,
		Cache: a.cache,
		Tasks: scraper.TasksFor(cfg.Scraper.Targets, scraper.NewSelectorExtractor(logger.With("component", "extractor"))),
		Surface: engine.SurfaceOptions{
			Width:     cfg.Browser.ViewportWidth,
			Height:    cfg.Browser.ViewportHeight,
			UserAgent: cfg.Browser.UserAgent,
		},
		Observer: scrapeObserver,
		Logger:   logger.With("component", "orchestrator"),
	}
	if cfg.Webhook.URL != "" {
		a.notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout, logger.With("component", "webhook"))
		opts.Notifier = a.notifier
	}
	a.orch = scraper.New(opts)

	return a
}

// close releases every component, bounded by ctx.
func (a *app) close(ctx context.Context) error {
	a.orch.BeginDrain()

	var errs []error
	if err := a.pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.cache.Stop()
	if a.notifier != nil {
		if err := a.notifier.Wait(ctx); err != nil {
			a.logger.Warn("webhook deliveries still pending at shutdown", "error", err)
		}
	}
	return errors.Join(errs...)
}
