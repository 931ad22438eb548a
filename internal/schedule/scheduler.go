// Package schedule runs the platform's recurring jobs: bot reconciliation,
// lifecycle notification sweeps and scheduled broadcast delivery.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/botfactory/botfactory/internal/config"
)

// TaskFunc is a recurring job body. Errors are logged, not fatal.
type TaskFunc func(ctx context.Context) error

// Scheduler manages recurring tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       config.SchedulerConfig

	reconcile     TaskFunc
	notifications TaskFunc
	broadcasts    TaskFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler creates the scheduler with the three platform tasks. Any task
// may be nil; it is then treated as disabled.
func NewScheduler(cfg config.SchedulerConfig, reconcile, notifications, broadcasts TaskFunc, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler:     s,
		logger:        logger.With("component", "scheduler"),
		cfg:           cfg,
		reconcile:     reconcile,
		notifications: notifications,
		broadcasts:    broadcasts,
	}, nil
}

// Start registers the enabled jobs and starts the scheduler's ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	scheduled := 0

	if s.cfg.ReconcileEnabled && s.reconcile != nil {
		if err := s.addJob("reconcile_bots", gocron.DurationJob(s.cfg.ReconcileInterval), s.reconcile); err != nil {
			return err
		}
		scheduled++
	}
	if s.cfg.NotificationsEnabled && s.notifications != nil {
		if err := s.addJob("notification_sweep", gocron.CronJob(s.cfg.NotificationCron, false), s.notifications); err != nil {
			return err
		}
		scheduled++
	}
	if s.cfg.BroadcastsEnabled && s.broadcasts != nil {
		if err := s.addJob("send_scheduled_broadcasts", gocron.CronJob(s.cfg.BroadcastCron, false), s.broadcasts); err != nil {
			return err
		}
		scheduled++
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", scheduled)
	return nil
}

func (s *Scheduler) addJob(name string, definition gocron.JobDefinition, task TaskFunc) error {
	_, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(
			func(ctx context.Context, taskName string) {
				s.logger.Debug("Running scheduled task", "task_name", taskName)
				start := time.Now()
				if taskErr := task(ctx); taskErr != nil {
					s.logger.Error("Scheduled task failed", "task_name", taskName, "error", taskErr)
				}
				s.logger.Debug("Finished scheduled task", "task_name", taskName, "duration", time.Since(start))
			},
			context.Background(),
			name,
		),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", name, err)
	}

	s.logger.Info("Scheduled task", "task_name", name)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped")
	}
	s.running = false
	return err
}
