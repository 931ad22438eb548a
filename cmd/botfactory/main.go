// Package main contains the entrypoint for the bot platform.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfactory/botfactory/internal/app"
	"github.com/botfactory/botfactory/internal/broadcast"
	"github.com/botfactory/botfactory/internal/config"
	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/dispatch"
	"github.com/botfactory/botfactory/internal/gemini"
	"github.com/botfactory/botfactory/internal/httpapi"
	"github.com/botfactory/botfactory/internal/language"
	"github.com/botfactory/botfactory/internal/lifecycle"
	"github.com/botfactory/botfactory/internal/logger"
	"github.com/botfactory/botfactory/internal/runtime"
	"github.com/botfactory/botfactory/internal/schedule"
	"github.com/botfactory/botfactory/internal/telegram"
	"github.com/botfactory/botfactory/internal/work"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes all platform components (config, logger, db, ai client,
// telegram gateway, runtime, broadcast and lifecycle engines, scheduler,
// admin API), starts the orchestrator, and returns an exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format == "json")
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	gateway := telegram.NewGateway(log)
	executor := work.NewExecutor(log)
	prefs := language.NewPreferences(store, log)
	detector := language.NewDetector()

	pipeline := dispatch.NewPipeline(store, aiClient, prefs, detector, executor, log, cfg.Gemini.RequestTimeout)
	manager := runtime.NewManager(gateway, store, pipeline.HandlerFor, log)

	// One limiter paces broadcast and lifecycle fan-out together, keeping the
	// platform under Telegram's global send limits.
	limiter := rate.NewLimiter(rate.Limit(cfg.Broadcast.MessagesPerSecond), cfg.Broadcast.Burst)
	broadcasts := broadcast.NewService(store, gateway, limiter, log)
	notifier := lifecycle.NewNotifier(store, gateway, manager, limiter, log)

	scheduler, err := schedule.NewScheduler(cfg.Scheduler,
		manager.Reconcile, notifier.Sweep, broadcasts.SendDue, log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		api = httpapi.NewServer(cfg.HTTP, store, broadcasts, manager, aiClient, log)
	}

	orchestrator := app.NewApp(log, cfg, manager, scheduler, api, executor)

	log.Info("Starting platform...")
	runErr := orchestrator.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Platform stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Platform stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
