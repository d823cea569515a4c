package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PromptHarvester/internal/app"
	"PromptHarvester/internal/config"
	"PromptHarvester/internal/logging"
)

func main() {
	serve := flag.Bool("serve", false, "run cycles on the configured cron schedule")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("error").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if *serve {
		if err := application.Serve(ctx); err != nil {
			logger.Error("application stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	report, err := application.RunOnce(ctx)
	if err != nil {
		logger.Error("cycle failed", "error", err)
		os.Exit(1)
	}
	logger.Info("cycle complete",
		"harvested", report.Harvested,
		"stored", report.Stored,
		"failures", len(report.Failures),
		"archive", report.ArchiveLocation,
	)
}
