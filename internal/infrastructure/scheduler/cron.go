package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"PromptHarvester/internal/ports"
)

// CronScheduler triggers cycles on a standard cron expression. Overlapping
// triggers are skipped while a cycle is still running.
type CronScheduler struct {
	spec       string
	location   *time.Location
	runOnStart bool
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler validates the expression up front. A nil location means UTC.
func NewCronScheduler(spec string, location *time.Location, runOnStart bool, logger *slog.Logger) (*CronScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CronScheduler{
		spec:       spec,
		location:   location,
		runOnStart: runOnStart,
		logger:     logger.With("component", "scheduler"),
	}, nil
}

// Start registers job and begins ticking. Calling Start twice is a no-op.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	logger := cronLogger{c.logger}
	cr := cron.New(
		cron.WithLocation(c.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	entry, err := cr.AddFunc(c.spec, func() { job(time.Now().In(c.location)) })
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	cr.Start()
	c.cron = cr
	c.logger.Info("scheduler started", "schedule", c.spec, "timezone", c.location.String())

	if c.runOnStart {
		go cr.Entry(entry).WrappedJob.Run()
	}

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Stop halts scheduling and waits for a running job until ctx is done.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	select {
	case <-cr.Stop().Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
