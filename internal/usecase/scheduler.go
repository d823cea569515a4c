package usecase

import (
	"context"
	"log/slog"
	"time"

	"PromptHarvester/internal/ports"
)

// Scheduler wires the cron driver with the harvesting cycle.
type Scheduler struct {
	driver ports.Scheduler
	cycle  *Cycle
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring cycles.
func NewScheduler(driver ports.Scheduler, cycle *Cycle, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, cycle: cycle, logger: logger}
}

// Start registers the cycle with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.cycle == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.cycle.RunOnce(ctx, trigger); err != nil {
			s.logger.Error("cycle failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
