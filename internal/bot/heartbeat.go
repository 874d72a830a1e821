package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/polaris-bridge/internal/logger"
)

// DefaultHeartbeatInterval is the ping period used when none is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat runs beat on a fixed interval using gocron.
type Heartbeat struct {
	scheduler gocron.Scheduler
	interval  time.Duration
	beat      func(ctx context.Context) error
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewHeartbeat creates a stopped heartbeat calling beat every interval.
func NewHeartbeat(interval time.Duration, beat func(ctx context.Context) error, log *slog.Logger) (*Heartbeat, error) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	s, err := gocron.NewScheduler(gocron.WithLogger(logger.NewGocronLogger(log)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Heartbeat{
		scheduler: s,
		interval:  interval,
		beat:      beat,
		logger:    log.With("component", "heartbeat"),
	}, nil
}

// Start schedules the heartbeat job. The first beat happens one interval later.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return fmt.Errorf("heartbeat already stopped")
	}
	if h.running {
		return fmt.Errorf("heartbeat is already running")
	}

	_, err := h.scheduler.NewJob(
		gocron.DurationJob(h.interval),
		gocron.NewTask(h.tick),
		gocron.WithName("heartbeat"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	h.scheduler.Start()
	h.running = true
	h.logger.Debug("Heartbeat started", "interval", h.interval)
	return nil
}

func (h *Heartbeat) tick() {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()
	if err := h.beat(ctx); err != nil {
		h.logger.Warn("Heartbeat failed", "error", err)
	}
}

// Stop cancels the heartbeat, waits for a running beat to finish and releases the
// scheduler, whether or not Start was called. Calls after the first are no-ops.
func (h *Heartbeat) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.running = false
	h.mu.Unlock()

	if err := h.scheduler.Shutdown(); err != nil {
		h.logger.Error("Error during heartbeat shutdown", "error", err)
		return err
	}
	h.logger.Debug("Heartbeat stopped")
	return nil
}
