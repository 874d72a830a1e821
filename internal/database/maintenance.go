package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/polaris-bridge/internal/logger"
)

// Defaults for history maintenance.
const (
	DefaultRetention           = 30 * 24 * time.Hour
	DefaultMaintenanceSchedule = "0 4 * * *"
	maintenanceTimeout         = 5 * time.Minute
)

// Maintenance prunes and compacts the history on a cron schedule.
type Maintenance struct {
	history   *History
	retention time.Duration
	schedule  string
	scheduler gocron.Scheduler
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewMaintenance creates a stopped maintenance job. Zero values select the
// defaults.
func NewMaintenance(history *History, retention time.Duration, schedule string, log *slog.Logger) (*Maintenance, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultMaintenanceSchedule
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logger.NewGocronLogger(log)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Maintenance{
		history:   history,
		retention: retention,
		schedule:  schedule,
		scheduler: s,
		logger:    log.With("task", "history_maintenance"),
	}, nil
}

// Start registers the cron job and starts the scheduler.
func (m *Maintenance) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return fmt.Errorf("maintenance already stopped")
	}
	if m.running {
		return fmt.Errorf("maintenance is already running")
	}

	_, err := m.scheduler.NewJob(
		gocron.CronJob(m.schedule, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
			defer cancel()
			_ = m.RunOnce(ctx)
		}),
		gocron.WithName("history_maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule history maintenance %q: %w", m.schedule, err)
	}

	m.scheduler.Start()
	m.running = true
	m.logger.Info("History maintenance scheduled", "schedule", m.schedule, "retention", m.retention)
	return nil
}

// RunOnce prunes expired messages and vacuums the database.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting scheduled history maintenance task...")
	startTime := time.Now()

	pruned, err := m.history.Prune(ctx, m.retention)
	if err != nil {
		m.logger.ErrorContext(ctx, "History maintenance task failed", "error", err, "duration", time.Since(startTime))
		return fmt.Errorf("history maintenance failed: %w", err)
	}
	if err := m.history.Vacuum(ctx); err != nil {
		m.logger.ErrorContext(ctx, "History maintenance task failed", "error", err, "duration", time.Since(startTime))
		return fmt.Errorf("history maintenance failed: %w", err)
	}

	m.logger.InfoContext(ctx, "Scheduled history maintenance task completed successfully", "pruned", pruned, "duration", time.Since(startTime))
	return nil
}

// Stop shuts the scheduler down, waiting for a running task. It releases the
// scheduler even when Start was never called or failed.
func (m *Maintenance) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	m.running = false
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Error("Error during maintenance scheduler shutdown", "error", err)
		return err
	}
	m.logger.Info("History maintenance stopped.")
	return nil
}
