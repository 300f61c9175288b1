package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ornabmomin/poem-api/api"
)

// forceExitGrace is how long past the shutdown deadline the process may
// linger before it is killed outright.
const forceExitGrace = 5 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("poem-api starting",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"engine", cfg.Browser.Engine,
		"pool_min", cfg.Pool.Min,
		"pool_max", cfg.Pool.Max,
		"targets", len(cfg.Scraper.Targets),
	)

	// ── 3. Wire components ──────────────────────────────────────────
	a := newApp(cfg, logger, true)
	a.cache.Start()
	a.pool.Start()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// ── 4. Setup router and start HTTP server ───────────────────────
	router := api.NewRouter(ctx, api.Deps{
		Episodes:  a.orch,
		Pool:      a.pool,
		Cache:     a.cache,
		Metrics:   a.metrics,
		Config:    cfg,
		StartTime: time.Now(),
		Version:   version,
		Logger:    logger.With("component", "http"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Warm the pool once the listener is up. Failures are not fatal; the
	// first request retries lazily.
	go func() {
		if err := a.pool.Initialize(ctx); err != nil {
			logger.Error("failed to initialise session pool", "error", err)
			return
		}
		logger.Info("session pool initialised", "stats", a.pool.Stats())
	}()

	// ── 5. Wait for a signal ────────────────────────────────────────
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("HTTP server error", "error", err)
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		_ = a.close(shutdownCtx)
		return err
	}

	// ── 6. Graceful shutdown ────────────────────────────────────────
	go func() {
		sig := <-quit
		logger.Error("second signal received, forcing exit", "signal", sig.String())
		os.Exit(1)
	}()
	watchdog := time.AfterFunc(cfg.Server.ShutdownTimeout+forceExitGrace, func() {
		logger.Error("forced shutdown after timeout")
		os.Exit(1)
	})
	defer watchdog.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer done()

	// New scrapes fail fast while in-flight requests finish.
	a.orch.BeginDrain()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
		errs = append(errs, err)
	} else {
		logger.Info("HTTP server drained gracefully")
	}
	cancel()

	if err := a.close(shutdownCtx); err != nil {
		logger.Error("error closing session pool", "error", err)
		errs = append(errs, err)
	}
	if shutdownCtx.Err() != nil {
		errs = append(errs, errors.New("shutdown deadline exceeded"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("poem-api stopped")
	return nil
}
