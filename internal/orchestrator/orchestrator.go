package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"PromptHarvester/internal/domain"
)

// StageState is the lifecycle of a stage inside one run.
type StageState string

const (
	StatePending   StageState = "pending"
	StateRunning   StageState = "running"
	StateRetrying  StageState = "retrying"
	StateCompleted StageState = "completed"
	StateFailed    StageState = "failed"
	StateSkipped   StageState = "skipped"
)

// Observer receives run events, typically to export metrics.
type Observer interface {
	StageFinished(rec domain.StageExecutionRecord)
	BudgetExceeded()
	RunFinished(run domain.OrchestrationRun)
}

// Config controls retries and run-level ceilings.
type Config struct {
	Retry          RetryPolicy
	CostCeilingUSD float64
	// RunTimeout stops new stages and retries from starting. In-flight
	// attempts are not cancelled.
	RunTimeout time.Duration
	// BudgetFatal skips not-yet-started stages once the cost ceiling is passed.
	BudgetFatal bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches an event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// Orchestrator executes a stage graph for a seed prompt.
type Orchestrator struct {
	graph    *Graph
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// New builds an orchestrator over a validated graph.
func New(graph *Graph, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	o := &Orchestrator{
		graph:  graph,
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runState is shared by the stage goroutines of one run.
type runState struct {
	mu       sync.Mutex
	outputs  map[string]StageOutput
	records  []domain.StageExecutionRecord
	cost     float64
	exceeded bool
	warnings []string
}

func (s *runState) status(i int) domain.StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[i].Status
}

// Run executes every stage once its dependencies complete. Stages with a
// failed or skipped dependency are skipped. The returned run always holds one
// record per stage in declaration order.
func (o *Orchestrator) Run(ctx context.Context, seed domain.PromptRecord) domain.OrchestrationRun {
	run := domain.OrchestrationRun{
		RunID:              o.newID(),
		Status:             domain.RunRunning,
		SeedPromptID:       seed.ID,
		SeedScore:          seed.Assessment.CombinedScore,
		CostCeilingUSD:     o.cfg.CostCeilingUSD,
		TimeCeilingSeconds: o.cfg.RunTimeout.Seconds(),
		StartedAt:          o.now(),
	}
	logger := o.logger.With("run_id", run.RunID)
	logger.Info("run started", "seed", seed.ID, "stages", o.graph.Len())

	gate := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		gate, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	nodes := o.graph.Nodes()
	state := &runState{
		outputs: make(map[string]StageOutput, len(nodes)),
		records: make([]domain.StageExecutionRecord, len(nodes)),
	}
	done := make([]chan struct{}, len(nodes))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node Node) {
			defer wg.Done()
			defer close(done[i])

			for _, dep := range node.DependsOn {
				<-done[o.graph.index[dep]]
			}
			rec := o.runNode(ctx, gate, logger, run.RunID, seed, node, state)

			state.mu.Lock()
			state.records[i] = rec
			state.mu.Unlock()
			if o.observer != nil {
				o.observer.StageFinished(rec)
			}
		}(i, node)
	}
	wg.Wait()

	run.StageExecutions = state.records
	run.Warnings = state.warnings
	run.Finalize(o.now())
	if o.observer != nil {
		o.observer.RunFinished(run)
	}
	logger.Info("run finished",
		"status", run.Status,
		"success_rate", run.SuccessRatePercent,
		"cost_usd", run.TotalCostUSD,
		"wall_clock_seconds", run.WallClockSeconds,
	)
	return run
}

func (o *Orchestrator) runNode(
	ctx, gate context.Context,
	logger *slog.Logger,
	runID string,
	seed domain.PromptRecord,
	node Node,
	state *runState,
) domain.StageExecutionRecord {
	stage := node.Stage
	rec := domain.StageExecutionRecord{StageID: stage.ID(), Kind: string(stage.Kind())}
	logger = logger.With("stage", stage.ID())

	upstream := make(map[string]StageOutput, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		if status := state.status(o.graph.index[dep]); status != domain.StageCompleted {
			return o.skip(logger, rec, fmt.Sprintf("dependency %s %s", dep, status))
		}
		state.mu.Lock()
		upstream[dep] = state.outputs[dep]
		state.mu.Unlock()
	}
	if gate.Err() != nil {
		return o.skip(logger, rec, "run deadline reached before start")
	}
	if o.cfg.BudgetFatal {
		state.mu.Lock()
		exceeded := state.exceeded
		state.mu.Unlock()
		if exceeded {
			return o.skip(logger, rec, "cost ceiling exceeded")
		}
	}

	rec.StartedAt = o.now()
	logger.Debug("stage state", "state", StateRunning)

	var history []Result
	in := StageInput{RunID: runID, Seed: seed, Upstream: upstream}
	for {
		in.Attempt = len(history) + 1
		res := o.attempt(ctx, stage, in)
		history = append(history, res)
		if res.OK() {
			rec.CostUSD += res.Output.CostUSD
			state.mu.Lock()
			state.outputs[stage.ID()] = res.Output
			state.mu.Unlock()
			o.addCost(logger, state, res.Output.CostUSD)
			break
		}

		decision := o.cfg.Retry.Next(history)
		if !decision.Retry {
			break
		}
		logger.Warn("stage attempt failed, retrying",
			"state", StateRetrying,
			"attempt", res.Attempt,
			"delay", decision.Delay,
			"error", res.Err,
		)
		if !wait(gate, decision.Delay) {
			rec.Reason = "run deadline reached during backoff"
			break
		}
	}

	rec.FinishedAt = o.now()
	rec.ElapsedSeconds = rec.FinishedAt.Sub(rec.StartedAt).Seconds()
	rec.Attempts = len(history)
	rec.Retries = len(history) - 1

	last := history[len(history)-1]
	if last.OK() {
		rec.Status = domain.StageCompleted
		logger.Info("stage completed", "attempts", rec.Attempts, "cost_usd", rec.CostUSD)
		return rec
	}

	rec.Status = domain.StageFailed
	rec.Error = fmt.Errorf("%w: %w", domain.ErrTerminalStage, last.Err).Error()
	logger.Error("stage failed", "attempts", rec.Attempts, "permanent", last.Permanent, "error", last.Err)
	return rec
}

// attempt runs one Execute call and turns a panic into a transient failure.
func (o *Orchestrator) attempt(ctx context.Context, stage Stage, in StageInput) (res Result) {
	start := o.now()
	res.Attempt = in.Attempt
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: stage panicked: %v", domain.ErrTransientStage, r)
			res.Permanent = false
			res.Output = StageOutput{}
		}
		res.Elapsed = o.now().Sub(start)
	}()

	out, err := stage.Execute(ctx, in)
	if err != nil {
		res.Err = err
		res.Permanent = IsPermanent(err) || errors.Is(err, context.Canceled)
		return res
	}
	res.Output = out
	return res
}

func (o *Orchestrator) addCost(logger *slog.Logger, state *runState, cost float64) {
	state.mu.Lock()
	state.cost += cost
	crossed := o.cfg.CostCeilingUSD > 0 && !state.exceeded && state.cost > o.cfg.CostCeilingUSD
	if crossed {
		state.exceeded = true
		state.warnings = append(state.warnings,
			fmt.Sprintf("%v: running cost $%.2f exceeds ceiling $%.2f", domain.ErrBudgetExceeded, state.cost, o.cfg.CostCeilingUSD))
	}
	total := state.cost
	state.mu.Unlock()

	if crossed {
		logger.Warn("cost ceiling exceeded", "cost_usd", total, "ceiling_usd", o.cfg.CostCeilingUSD, "fatal", o.cfg.BudgetFatal)
		if o.observer != nil {
			o.observer.BudgetExceeded()
		}
	}
}

func (o *Orchestrator) skip(logger *slog.Logger, rec domain.StageExecutionRecord, reason string) domain.StageExecutionRecord {
	now := o.now()
	rec.Status = domain.StageSkipped
	rec.Reason = reason
	rec.StartedAt = now
	rec.FinishedAt = now
	logger.Warn("stage skipped", "state", StateSkipped, "reason", reason)
	return rec
}

// wait sleeps for d unless gate finishes first.
func wait(gate context.Context, d time.Duration) bool {
	if gate.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return gate.Err() == nil
	case <-gate.Done():
		return false
	}
}
