package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"PromptHarvester/internal/analysis"
	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/config"
	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/harvest"
	"PromptHarvester/internal/infrastructure/archive"
	"PromptHarvester/internal/infrastructure/llm"
	"PromptHarvester/internal/infrastructure/scheduler"
	"PromptHarvester/internal/infrastructure/sources"
	"PromptHarvester/internal/infrastructure/stages"
	"PromptHarvester/internal/infrastructure/storage"
	"PromptHarvester/internal/infrastructure/telegram"
	"PromptHarvester/internal/insight"
	"PromptHarvester/internal/logging"
	"PromptHarvester/internal/metrics"
	"PromptHarvester/internal/orchestrator"
	"PromptHarvester/internal/ports"
	"PromptHarvester/internal/scoring"
	"PromptHarvester/internal/usecase"
)

// Application wires configs to use cases and lifecycle management. It is
// the single context object every component receives its collaborators from.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	metrics   *metrics.Metrics
	cycle     *usecase.Cycle
	scheduler *usecase.Scheduler
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.New()}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}

	model, err := buildLanguageModel(ctx, cfg.Analyzer)
	if err != nil {
		a.Close()
		return nil, err
	}

	scorer, err := scoring.NewScorer(scoring.Config{
		Weights:      cfg.Scoring.ScorerWeights(),
		HalfLife:     cfg.Scoring.HalfLife,
		RecencyFloor: cfg.Scoring.RecencyFloor,
	}, nil)
	if err != nil {
		a.Close()
		return nil, err
	}

	runner, err := a.buildRunner(model)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := usecase.CycleDeps{
		Harvester: a.buildHarvester(),
		Scorer:    scorer,
		Analyzer: analysis.NewAnalyzer(model, analysis.Config{
			Timeout:           cfg.Analyzer.Timeout,
			RequestsPerSecond: cfg.Analyzer.RequestsPerSecond,
			Burst:             cfg.Analyzer.Burst,
		}, baseLogger.With("component", "analyzer")),
		Store:    store,
		Reporter: insight.NewReporter(),
		Metrics:  a.metrics,
		Logger:   baseLogger,
	}
	if runner != nil {
		deps.Runner = runner
	}
	if t := cfg.Notifications.Telegram; t.BotToken != "" && t.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(t.BaseURL, t.BotToken, t.ChatID)
	}
	if cfg.Archive.Bucket != "" {
		sink, err := archive.NewS3Sink(ctx, archive.Config{
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Archive = sink
	}

	a.cycle, err = usecase.NewCycle(usecase.CycleConfig{
		MaxAnalyzed:           cfg.Analyzer.MaxItems,
		MinScore:              cfg.Scoring.MinScore,
		MinPatternOccurrences: cfg.Analyzer.MinPatternOccurrences,
		Seeds:                 cfg.Orchestration.Seeds,
		MinSeedScore:          cfg.Orchestration.MinSeedScore,
		ModelType:             domain.ModelType(cfg.Orchestration.ModelType),
		AgentID:               cfg.Orchestration.AgentID,
		PriorRuns:             cfg.Orchestration.PriorRuns,
	}, deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	driver, err := scheduler.NewCronScheduler(
		cfg.Scheduler.CronExpression,
		cfg.Scheduler.Location(),
		cfg.Scheduler.RunOnStart,
		baseLogger,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.scheduler = usecase.NewScheduler(driver, a.cycle, baseLogger.With("component", "scheduler"))
	return a, nil
}

func (a *Application) buildStore(ctx context.Context) (ports.PromptStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	db, err := storage.Open(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	store := storage.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return store, nil
}

func (a *Application) buildHarvester() *harvest.Harvester {
	h := a.cfg.Harvest
	opts := sources.Options{
		RequestsPerSecond: h.RequestsPerSecond,
		Burst:             h.Burst,
		MaxRetries:        h.MaxRetries,
		UserAgent:         h.UserAgent,
	}

	registry := collector.NewRegistry()
	requests := make([]collector.Request, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		requests = append(requests, src.Request())
	}

	forumOpts := opts
	forumOpts.Logger = a.logger.With("component", "collector.forum")
	registry.Register(sources.NewForumCollector("", forumOpts))

	videoOpts := opts
	videoOpts.Logger = a.logger.With("component", "collector.video")
	registry.Register(sources.NewVideoCollector(h.YouTubeAPIKey, videoOpts))

	webOpts := opts
	webOpts.Logger = a.logger.With("component", "collector.web")
	registry.Register(sources.NewWebCollector(webOpts))

	return harvest.NewHarvester(registry, requests, h.Concurrency, a.metrics, a.logger)
}

func (a *Application) buildRunner(model ports.LanguageModel) (*orchestrator.Orchestrator, error) {
	if len(a.cfg.Stages) == 0 {
		return nil, nil
	}
	decls := make([]stages.Config, 0, len(a.cfg.Stages))
	for _, s := range a.cfg.Stages {
		decls = append(decls, stages.Config{
			ID:        s.ID,
			Kind:      s.Kind,
			DependsOn: s.DependsOn,
			Endpoint:  s.Endpoint,
			APIKey:    s.APIKey,
			Model:     s.Model,
			CostUSD:   s.CostUSD,
			Timeout:   s.Timeout,
		})
	}
	graph, err := stages.Build(decls, stages.Deps{Writer: model})
	if err != nil {
		return nil, fmt.Errorf("build stage graph: %w", err)
	}

	o := a.cfg.Orchestration
	return orchestrator.New(graph, orchestrator.Config{
		Retry:          orchestrator.RetryPolicy{MaxRetries: o.MaxRetries, BaseDelay: o.BaseDelay, MaxDelay: o.MaxDelay},
		CostCeilingUSD: o.CostCeilingUSD,
		RunTimeout:     o.RunTimeout,
		BudgetFatal:    o.BudgetFatal,
	}, a.logger, orchestrator.WithObserver(a.metrics)), nil
}

// buildLanguageModel picks the configured backend. With no explicit backend
// the first one holding an API key wins; nil means no analyzer.
func buildLanguageModel(ctx context.Context, cfg config.AnalyzerConfig) (ports.LanguageModel, error) {
	backend := cfg.Backend
	if backend == "" {
		switch {
		case cfg.Gemini.APIKey != "":
			backend = "gemini"
		case cfg.ChatGPT.APIKey != "":
			backend = "chatgpt"
		default:
			backend = "none"
		}
	}

	switch backend {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return client, nil
	case "chatgpt":
		if cfg.ChatGPT.APIKey == "" {
			return nil, domain.NewValidationError("analyzer.chatgpt.apiKey", "api key is required")
		}
		return llm.NewChatGPTClient(llm.ChatGPTConfig{
			Endpoint:     cfg.ChatGPT.Endpoint,
			Model:        cfg.ChatGPT.Model,
			APIKey:       cfg.ChatGPT.APIKey,
			SystemPrompt: cfg.ChatGPT.SystemPrompt,
		}), nil
	default:
		return nil, nil
	}
}

// RunOnce performs a single harvesting cycle.
func (a *Application) RunOnce(ctx context.Context) (usecase.CycleReport, error) {
	now := time.Now().In(a.cfg.Scheduler.Location())
	return a.cycle.RunOnce(ctx, now)
}

// Serve runs cycles on the cron schedule and exposes metrics until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	var srv *http.Server
	if a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener stopped", "error", err)
			}
		}()
		a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Listen)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown", "error", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
