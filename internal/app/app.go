// Package app orchestrates the platform components: the bot runtime, the
// scheduler and the admin HTTP API, with graceful shutdown on context
// cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/botfactory/botfactory/internal/config"
	"github.com/botfactory/botfactory/internal/httpapi"
	"github.com/botfactory/botfactory/internal/runtime"
	"github.com/botfactory/botfactory/internal/schedule"
	"github.com/botfactory/botfactory/internal/work"
)

const httpShutdownTimeout = 10 * time.Second

// App represents the platform application and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	runtime   *runtime.Manager
	scheduler *schedule.Scheduler
	api       *httpapi.Server
	executor  *work.Executor
}

// NewApp assembles the orchestrator. api may be nil when the HTTP API is
// disabled.
func NewApp(
	logger *slog.Logger,
	cfg *config.Config,
	rt *runtime.Manager,
	scheduler *schedule.Scheduler,
	api *httpapi.Server,
	executor *work.Executor,
) *App {
	return &App{
		logger:    logger.With("component", "orchestrator"),
		cfg:       cfg,
		runtime:   rt,
		scheduler: scheduler,
		api:       api,
		executor:  executor,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown stops the scheduler, the HTTP server and every
// running bot, then drains background work.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting orchestrator...")

	// Bring the runtime in line with the store before anything else, so
	// bots marked active resume polling immediately after a restart.
	if err := a.runtime.Reconcile(ctx); err != nil {
		a.logger.Error("Initial bot reconcile failed", "error", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if a.cfg.HTTP.Enabled && a.api != nil {
		server := &http.Server{
			Addr:    a.cfg.HTTP.Addr,
			Handler: a.api.Router(),
		}

		g.Go(func() error {
			a.logger.Info("Starting admin API", "addr", a.cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			a.logger.Info("Shutdown signal received, stopping admin API...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error stopping admin API", "error", err)
			}
			return nil
		})
	}

	a.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully.")
	return nil
}

// shutdown stops every running bot and waits for in-flight background work.
func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	a.runtime.StopAll(stopCtx)
	if err := a.executor.Wait(stopCtx); err != nil {
		a.logger.Warn("Background work did not drain before shutdown deadline", "error", err)
	}
}
