package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"PromptHarvester/internal/analysis"
	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/harvest"
	"PromptHarvester/internal/insight"
	"PromptHarvester/internal/ports"
	"PromptHarvester/internal/scoring"
)

// Harvester gathers raw items from every configured source.
type Harvester interface {
	Harvest(ctx context.Context) (harvest.Report, error)
}

// Assessor is the optional AI analyzer.
type Assessor interface {
	Available() bool
	Analyze(ctx context.Context, item domain.RawItem) (domain.AIAssessment, error)
}

// Runner executes the generation graph for one seed prompt.
type Runner interface {
	Run(ctx context.Context, seed domain.PromptRecord) domain.OrchestrationRun
}

// Recorder receives cycle-level counters.
type Recorder interface {
	AnalyzerFallback()
	PromptsStored(n int)
}

// CycleConfig holds the per-cycle thresholds.
type CycleConfig struct {
	MaxAnalyzed           int
	MinScore              float64
	MinPatternOccurrences int
	Seeds                 int
	MinSeedScore          float64
	ModelType             domain.ModelType
	AgentID               string
	PriorRuns             int
}

// CycleDeps wires all driven adapters into the harvesting cycle.
type CycleDeps struct {
	Harvester Harvester
	Scorer    *scoring.Scorer
	Analyzer  Assessor
	Store     ports.PromptStore
	Runner    Runner
	Reporter  *insight.Reporter
	Notifier  ports.Notifier
	Archive   ports.ReportSink
	Metrics   Recorder
	Logger    *slog.Logger
	Now       func() time.Time
}

// CycleReport is the machine-readable outcome of one cycle.
type CycleReport struct {
	StartedAt         time.Time                `json:"startedAt"`
	FinishedAt        time.Time                `json:"finishedAt"`
	Sources           []harvest.SourceReport   `json:"sources"`
	Harvested         int                      `json:"harvested"`
	AboveMinScore     int                      `json:"aboveMinScore"`
	Analyzed          int                      `json:"analyzed"`
	AnalyzerFallbacks int                      `json:"analyzerFallbacks"`
	Stored            int                      `json:"stored"`
	New               int                      `json:"new"`
	Refreshed         int                      `json:"refreshed"`
	Patterns          []domain.Pattern         `json:"patterns,omitempty"`
	Seed              *domain.PromptRecord     `json:"seed,omitempty"`
	Run               *domain.OrchestrationRun `json:"run,omitempty"`
	Insight           *domain.InsightSummary   `json:"insight,omitempty"`
	Statistics        domain.StoreStatistics   `json:"statistics"`
	ArchiveLocation   string                   `json:"archiveLocation,omitempty"`
	Failures          []string                 `json:"failures,omitempty"`
}

func (r *CycleReport) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Cycle implements harvest, score, store, orchestrate and report.
type Cycle struct {
	cfg       CycleConfig
	harvester Harvester
	scorer    *scoring.Scorer
	analyzer  Assessor
	store     ports.PromptStore
	runner    Runner
	reporter  *insight.Reporter
	notifier  ports.Notifier
	archive   ports.ReportSink
	metrics   Recorder
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	history []domain.OrchestrationRun
}

// NewCycle constructs the cycle. Harvester, scorer and store are required.
func NewCycle(cfg CycleConfig, deps CycleDeps) (*Cycle, error) {
	if deps.Harvester == nil || deps.Scorer == nil || deps.Store == nil {
		return nil, domain.NewValidationError("cycle", "harvester, scorer and store are required")
	}
	if cfg.Seeds <= 0 {
		cfg.Seeds = 1
	}
	if cfg.MinPatternOccurrences <= 0 {
		cfg.MinPatternOccurrences = 2
	}
	if deps.Reporter == nil {
		deps.Reporter = insight.NewReporter()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Cycle{
		cfg:       cfg,
		harvester: deps.Harvester,
		scorer:    deps.Scorer,
		analyzer:  deps.Analyzer,
		store:     deps.Store,
		runner:    deps.Runner,
		reporter:  deps.Reporter,
		notifier:  deps.Notifier,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "cycle"),
		now:       deps.Now,
	}, nil
}

// RunOnce executes one full cycle. Only configuration errors and a failing
// store are returned; everything else is enumerated in the report.
func (c *Cycle) RunOnce(ctx context.Context, trigger time.Time) (CycleReport, error) {
	report := CycleReport{StartedAt: c.now()}
	c.logger.Info("cycle started", "trigger", trigger.Format(time.RFC3339))

	harvested, err := c.harvester.Harvest(ctx)
	if err != nil {
		return report, fmt.Errorf("harvest: %w", err)
	}
	report.Sources = harvested.Sources
	report.Harvested = len(harvested.Items)
	for _, s := range harvested.Sources {
		if s.Unavailable {
			report.fail("source %s unavailable: %s", s.Name, s.Reason)
		}
	}

	scored := c.scoreLocal(harvested.Items, &report)
	known := c.known(ctx, scored, &report)
	scored = c.analyze(ctx, scored, known, &report)
	ranked := scoring.Rank(scored, c.cfg.MinScore)
	report.AboveMinScore = len(ranked)

	if err := c.persist(ctx, scored, known, &report); err != nil {
		return report, err
	}

	report.Patterns = analysis.ExtractPatterns(ranked, c.cfg.MinPatternOccurrences)
	if len(report.Patterns) > 0 {
		if err := c.store.RecordPatterns(ctx, report.Patterns); err != nil {
			report.fail("record patterns: %v", err)
		}
	}

	c.orchestrate(ctx, &report)

	stats, err := c.store.Statistics(ctx)
	if err != nil {
		report.fail("statistics: %v", err)
	}
	report.Statistics = stats
	report.FinishedAt = c.now()

	c.notify(ctx, &report)
	c.archiveReport(ctx, &report)

	c.logger.Info("cycle finished",
		"harvested", report.Harvested,
		"stored", report.Stored,
		"new", report.New,
		"analyzed", report.Analyzed,
		"fallbacks", report.AnalyzerFallbacks,
		"failures", len(report.Failures),
	)
	return report, nil
}

// scoreLocal assesses every valid item with the local scorer.
func (c *Cycle) scoreLocal(items []domain.RawItem, report *CycleReport) []scoring.Scored {
	scored := make([]scoring.Scored, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			report.fail("item %s rejected: %v", item.ExternalID, err)
			continue
		}
		scored = append(scored, scoring.Scored{Item: item, Assessment: c.scorer.Score(item)})
	}
	return scored
}

// known loads the stored records of items harvested before. A lookup
// failure is reported and treats every item as new.
func (c *Cycle) known(ctx context.Context, scored []scoring.Scored, report *CycleReport) map[string]domain.PromptRecord {
	known := make(map[string]domain.PromptRecord)
	if len(scored) == 0 {
		return known
	}
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Item.Key())
	}
	existing, err := c.store.Existing(ctx, ids)
	if err != nil {
		report.fail("lookup existing prompts: %v", err)
		return known
	}
	for id := range existing {
		rec, err := c.store.Get(ctx, id)
		if err != nil {
			report.fail("load prompt %s: %v", id, err)
			continue
		}
		known[id] = rec
	}
	return known
}

// analyze upgrades the best local candidates with the analyzer. Items stored
// with an AI score keep it, re-derived over the fresh local components, and
// do not count against the per-cycle budget. Analyzer failures fall back to
// the local score.
func (c *Cycle) analyze(ctx context.Context, scored []scoring.Scored, known map[string]domain.PromptRecord, report *CycleReport) []scoring.Scored {
	pending := make([]scoring.Scored, 0, len(scored))
	for i := range scored {
		prior, ok := known[scored[i].Item.Key()]
		if ok && prior.Assessment.HasAI() {
			scored[i].Assessment = c.scorer.WithAI(scored[i].Assessment, *prior.Assessment.AIScore)
			continue
		}
		pending = append(pending, scored[i])
	}

	if c.analyzer == nil || !c.analyzer.Available() || c.cfg.MaxAnalyzed <= 0 {
		return scored
	}

	candidates := scoring.Rank(pending, 0)
	if len(candidates) > c.cfg.MaxAnalyzed {
		candidates = candidates[:c.cfg.MaxAnalyzed]
	}
	upgraded := make(map[string]domain.QualityAssessment, len(candidates))
	for _, cand := range candidates {
		ai, err := c.analyzer.Analyze(ctx, cand.Item)
		if err != nil {
			report.AnalyzerFallbacks++
			if c.metrics != nil {
				c.metrics.AnalyzerFallback()
			}
			c.logger.Warn("analyzer unavailable, using local score", "item", cand.Item.Key(), "error", err)
			continue
		}
		report.Analyzed++
		upgraded[cand.Item.Key()] = c.scorer.WithAI(cand.Assessment, ai.Score)
	}

	for i := range scored {
		if a, ok := upgraded[scored[i].Item.Key()]; ok {
			scored[i].Assessment = a
		}
	}
	return scored
}

func (c *Cycle) persist(ctx context.Context, scored []scoring.Scored, known map[string]domain.PromptRecord, report *CycleReport) error {
	now := c.now()
	for _, s := range scored {
		rec := domain.NewPromptRecord(s.Item, s.Assessment, now)
		prior, seen := known[rec.ID]
		if seen && prior.Assessment.HasAI() {
			rec.AnalyzedAt = prior.AnalyzedAt
		}
		if err := c.store.Upsert(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				report.fail("store %s: %v", rec.ID, err)
				continue
			}
			return fmt.Errorf("persist %s: %w", rec.ID, err)
		}
		report.Stored++
		if seen {
			report.Refreshed++
		} else {
			report.New++
		}
	}
	if c.metrics != nil && report.Stored > 0 {
		c.metrics.PromptsStored(report.Stored)
	}
	return nil
}

func (c *Cycle) orchestrate(ctx context.Context, report *CycleReport) {
	if c.runner == nil {
		return
	}

	seeds, err := c.store.TopN(ctx, domain.TopNQuery{
		N:         c.cfg.Seeds,
		MinScore:  c.cfg.MinSeedScore,
		ModelType: c.cfg.ModelType,
	})
	if err != nil {
		report.fail("select seed: %v", err)
		return
	}
	seed, ok := pickSeed(seeds)
	if !ok {
		c.logger.Info("no seed above threshold", "min_score", c.cfg.MinSeedScore)
		return
	}
	report.Seed = &seed

	run := c.runner.Run(ctx, seed)
	report.Run = &run

	summary := c.reporter.Summarize(run, c.priorRuns()...)
	report.Insight = &summary
	c.remember(run)

	for _, f := range summary.Failures {
		report.fail("stage %s failed after %d retries: %s", f.StageID, f.Retries, f.Error)
	}
	c.markTraining(ctx, seed, run, report)
}

// pickSeed prefers the best prompt not yet used for training.
func pickSeed(seeds []domain.PromptRecord) (domain.PromptRecord, bool) {
	if len(seeds) == 0 {
		return domain.PromptRecord{}, false
	}
	for _, s := range seeds {
		if !s.UsedForTraining {
			return s, true
		}
	}
	return seeds[0], true
}

// markTraining writes one usage row per stage that actually executed.
func (c *Cycle) markTraining(ctx context.Context, seed domain.PromptRecord, run domain.OrchestrationRun, report *CycleReport) {
	agent := c.cfg.AgentID
	if agent == "" {
		agent = "prompt-harvester"
	}
	for _, rec := range run.StageExecutions {
		if rec.Attempts == 0 {
			continue
		}
		err := c.store.MarkUsedForTraining(ctx, domain.TrainingUsage{
			PromptID:   seed.ID,
			AgentID:    agent + "/" + rec.StageID,
			Iterations: rec.Attempts,
			Success:    rec.Status == domain.StageCompleted,
			RecordedAt: c.now(),
		})
		if err != nil {
			report.fail("mark training %s/%s: %v", seed.ID, rec.StageID, err)
		}
	}
}

func (c *Cycle) priorRuns() []domain.OrchestrationRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OrchestrationRun(nil), c.history...)
}

func (c *Cycle) remember(run domain.OrchestrationRun) {
	if c.cfg.PriorRuns <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, run)
	if len(c.history) > c.cfg.PriorRuns {
		c.history = c.history[len(c.history)-c.cfg.PriorRuns:]
	}
}

func (c *Cycle) notify(ctx context.Context, report *CycleReport) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.PublishDigest(ctx, buildDigestMessage(*report)); err != nil {
		c.logger.Warn("publish digest failed", "error", err)
		report.fail("notify: %v", err)
	}
}

func (c *Cycle) archiveReport(ctx context.Context, report *CycleReport) {
	if c.archive == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		report.fail("encode report: %v", err)
		return
	}
	loc, err := c.archive.Store(ctx, archiveKey(*report), payload)
	if err != nil {
		c.logger.Warn("archive report failed", "error", err)
		report.fail("archive: %v", err)
		return
	}
	report.ArchiveLocation = loc
}

func archiveKey(report CycleReport) string {
	name := report.StartedAt.UTC().Format("150405")
	if report.Run != nil {
		name = report.Run.RunID
	}
	return fmt.Sprintf("%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), name)
}

func buildDigestMessage(report CycleReport) string {
	header := fmt.Sprintf("Harvested %d items, %d above threshold, %d stored (%d analyzed, %d fallbacks)\n",
		report.Harvested, report.AboveMinScore, report.Stored, report.Analyzed, report.AnalyzerFallbacks)
	if report.Insight == nil {
		return header + "No generation run this cycle.\n"
	}
	return header + insight.Digest(*report.Insight, report.Patterns)
}
