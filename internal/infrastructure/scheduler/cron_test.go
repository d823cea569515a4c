package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewCronSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewCronScheduler("every tuesday", nil, false, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCronSchedulerRunsOnStartAndStops(t *testing.T) {
	t.Parallel()

	s, err := NewCronScheduler("0 6 * * *", time.UTC, true, nil)
	if err != nil {
		t.Fatalf("NewCronScheduler() error = %v", err)
	}

	fired := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx, func(time.Time) { t.Errorf("second start must not register") }); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run on start")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
