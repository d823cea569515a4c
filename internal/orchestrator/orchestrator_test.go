package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PromptHarvester/internal/domain"
)

type fakeStage struct {
	id    string
	kind  StageKind
	calls atomic.Int32
	exec  func(ctx context.Context, in StageInput, call int) (StageOutput, error)
}

func (s *fakeStage) ID() string      { return s.id }
func (s *fakeStage) Kind() StageKind { return s.kind }

func (s *fakeStage) Execute(ctx context.Context, in StageInput) (StageOutput, error) {
	call := int(s.calls.Add(1))
	if s.exec == nil {
		return StageOutput{Artifact: s.id}, nil
	}
	return s.exec(ctx, in, call)
}

func stage(id string, kind StageKind, exec func(context.Context, StageInput, int) (StageOutput, error)) *fakeStage {
	return &fakeStage{id: id, kind: kind, exec: exec}
}

func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func seedRecord() domain.PromptRecord {
	return domain.PromptRecord{ID: "seed-1", Assessment: domain.QualityAssessment{CombinedScore: 8.2}}
}

func mustGraph(t *testing.T, nodes ...Node) *Graph {
	t.Helper()
	g, err := NewGraph(nodes...)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	return g
}

func newTestOrchestrator(g *Graph, cfg Config, opts ...Option) *Orchestrator {
	opts = append([]Option{WithIDGenerator(func() string { return "run-1" })}, opts...)
	return New(g, cfg, nil, opts...)
}

func TestNewGraphRejectsInvalidShapes(t *testing.T) {
	t.Parallel()

	a := stage("a", KindScript, nil)
	b := stage("b", KindMusic, nil)
	cases := map[string][]Node{
		"empty":        nil,
		"duplicate":    {{Stage: a}, {Stage: stage("a", KindVideo, nil)}},
		"unknown dep":  {{Stage: a, DependsOn: []string{"missing"}}},
		"self dep":     {{Stage: a, DependsOn: []string{"a"}}},
		"cycle":        {{Stage: a, DependsOn: []string{"b"}}, {Stage: b, DependsOn: []string{"a"}}},
		"unknown kind": {{Stage: stage("x", StageKind("poster"), nil)}},
		"repeated dep": {{Stage: a}, {Stage: b, DependsOn: []string{"a", "a"}}},
	}
	for name, nodes := range cases {
		if _, err := NewGraph(nodes...); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestRetryPolicyNext(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	fail := Result{Err: errors.New("boom")}

	history := []Result{fail}
	wantDelays := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	for i, want := range wantDelays {
		d := p.Next(history)
		if !d.Retry || d.Delay != want {
			t.Fatalf("retry %d: got %+v, want delay %v", i, d, want)
		}
		history = append(history, fail)
	}
	if d := p.Next(history); d.Retry {
		t.Fatalf("expected retries exhausted after %d attempts", len(history))
	}

	if d := p.Next([]Result{{Err: errors.New("bad"), Permanent: true}}); d.Retry {
		t.Fatalf("permanent failure must not be retried")
	}
	if d := p.Next([]Result{fail, {}}); d.Retry {
		t.Fatalf("success must not be retried")
	}
	if d := p.Next(nil); d.Retry {
		t.Fatalf("empty history must not be retried")
	}
}

func TestRunExecutesIndependentStagesConcurrently(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	parallel := func(ctx context.Context, in StageInput, _ int) (StageOutput, error) {
		started.Done()
		select {
		case <-both:
			return StageOutput{Artifact: "ok", CostUSD: 0.1}, nil
		case <-time.After(2 * time.Second):
			return StageOutput{}, Permanent(errors.New("sibling never started"))
		}
	}

	var dInput StageInput
	g := mustGraph(t,
		Node{Stage: stage("a", KindScript, nil)},
		Node{Stage: stage("b", KindMusic, parallel), DependsOn: []string{"a"}},
		Node{Stage: stage("c", KindVideo, parallel), DependsOn: []string{"a"}},
		Node{Stage: stage("d", KindAssembly, func(_ context.Context, in StageInput, _ int) (StageOutput, error) {
			dInput = in
			return StageOutput{Artifact: "final.mp4", CostUSD: 0.2}, nil
		}), DependsOn: []string{"b", "c"}},
	)

	run := newTestOrchestrator(g, Config{Retry: fastRetry(0)}).Run(context.Background(), seedRecord())

	if run.Status != domain.RunCompleted || run.SuccessRatePercent != 100 {
		t.Fatalf("unexpected run: status=%s success=%.1f records=%+v", run.Status, run.SuccessRatePercent, run.StageExecutions)
	}
	if run.RunID != "run-1" || run.SeedPromptID != "seed-1" || run.SeedScore != 8.2 {
		t.Fatalf("unexpected run identity: %+v", run)
	}
	ids := make([]string, 0, len(run.StageExecutions))
	for _, rec := range run.StageExecutions {
		ids = append(ids, rec.StageID)
	}
	if strings.Join(ids, ",") != "a,b,c,d" {
		t.Fatalf("records not in declaration order: %v", ids)
	}
	if len(dInput.Upstream) != 2 || dInput.Upstream["b"].Artifact != "ok" {
		t.Fatalf("unexpected upstream outputs: %+v", dInput.Upstream)
	}
	if got := run.TotalCostUSD; got < 0.399 || got > 0.401 {
		t.Fatalf("expected total cost 0.4, got %f", got)
	}
}

func TestRunRetriesThenFailsWithoutBlockingSiblings(t *testing.T) {
	t.Parallel()

	flaky := stage("music", KindMusic, func(context.Context, StageInput, int) (StageOutput, error) {
		return StageOutput{}, errors.New("upstream 503")
	})
	g := mustGraph(t,
		Node{Stage: stage("script", KindScript, nil)},
		Node{Stage: flaky, DependsOn: []string{"script"}},
		Node{Stage: stage("video", KindVideo, nil), DependsOn: []string{"script"}},
		Node{Stage: stage("assembly", KindAssembly, nil), DependsOn: []string{"music", "video"}},
	)

	run := newTestOrchestrator(g, Config{Retry: fastRetry(3)}).Run(context.Background(), seedRecord())

	music, _ := run.Stage("music")
	if music.Status != domain.StageFailed || music.Attempts != 4 || music.Retries != 3 {
		t.Fatalf("unexpected music record: %+v", music)
	}
	if !strings.Contains(music.Error, "upstream 503") {
		t.Fatalf("expected last error recorded, got %q", music.Error)
	}
	if flaky.calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", flaky.calls.Load())
	}
	if video, _ := run.Stage("video"); video.Status != domain.StageCompleted {
		t.Fatalf("sibling should complete, got %+v", video)
	}
	assembly, _ := run.Stage("assembly")
	if assembly.Status != domain.StageSkipped || !strings.Contains(assembly.Reason, "music") {
		t.Fatalf("dependent should be skipped, got %+v", assembly)
	}
	if run.Status != domain.RunPartiallyFailed || run.SuccessRatePercent != 50 {
		t.Fatalf("unexpected run status %s success %.1f", run.Status, run.SuccessRatePercent)
	}
}

func TestRunRecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()

	g := mustGraph(t,
		Node{Stage: stage("script", KindScript, func(_ context.Context, in StageInput, call int) (StageOutput, error) {
			if call <= 2 {
				return StageOutput{}, domain.ErrTransientStage
			}
			if in.Attempt != 3 {
				return StageOutput{}, Permanent(errors.New("attempt counter not advanced"))
			}
			return StageOutput{Artifact: "script.txt", CostUSD: 0.05}, nil
		})},
		Node{Stage: stage("video", KindVideo, nil), DependsOn: []string{"script"}},
	)

	run := newTestOrchestrator(g, Config{Retry: fastRetry(3)}).Run(context.Background(), seedRecord())

	script, _ := run.Stage("script")
	if script.Status != domain.StageCompleted || script.Retries != 2 || script.Attempts != 3 {
		t.Fatalf("unexpected script record: %+v", script)
	}
	if run.SuccessRatePercent != 100 || run.Status != domain.RunCompleted {
		t.Fatalf("expected full success, got %s %.1f", run.Status, run.SuccessRatePercent)
	}
}

func TestRunDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	bad := stage("video", KindVideo, func(context.Context, StageInput, int) (StageOutput, error) {
		return StageOutput{}, Permanent(errors.New("400 bad prompt"))
	})
	run := newTestOrchestrator(mustGraph(t, Node{Stage: bad}), Config{Retry: fastRetry(3)}).
		Run(context.Background(), seedRecord())

	rec, _ := run.Stage("video")
	if rec.Status != domain.StageFailed || rec.Attempts != 1 || bad.calls.Load() != 1 {
		t.Fatalf("expected a single failed attempt, got %+v", rec)
	}
}

func TestRunRecoversStagePanics(t *testing.T) {
	t.Parallel()

	boom := stage("music", KindMusic, func(context.Context, StageInput, int) (StageOutput, error) {
		panic("nil pointer in codec")
	})
	g := mustGraph(t, Node{Stage: boom}, Node{Stage: stage("script", KindScript, nil)})

	run := newTestOrchestrator(g, Config{Retry: fastRetry(1)}).Run(context.Background(), seedRecord())

	rec, _ := run.Stage("music")
	if rec.Status != domain.StageFailed || rec.Attempts != 2 || !strings.Contains(rec.Error, "panicked") {
		t.Fatalf("unexpected panic record: %+v", rec)
	}
	if other, _ := run.Stage("script"); other.Status != domain.StageCompleted {
		t.Fatalf("other stage should complete, got %+v", other)
	}
}

func TestRunDeadlineSkipsUnstartedStages(t *testing.T) {
	t.Parallel()

	slow := stage("script", KindScript, func(context.Context, StageInput, int) (StageOutput, error) {
		time.Sleep(80 * time.Millisecond)
		return StageOutput{Artifact: "late"}, nil
	})
	g := mustGraph(t,
		Node{Stage: slow},
		Node{Stage: stage("video", KindVideo, nil), DependsOn: []string{"script"}},
	)

	run := newTestOrchestrator(g, Config{Retry: fastRetry(0), RunTimeout: 20 * time.Millisecond}).
		Run(context.Background(), seedRecord())

	if rec, _ := run.Stage("script"); rec.Status != domain.StageCompleted {
		t.Fatalf("in-flight stage should finish, got %+v", rec)
	}
	video, _ := run.Stage("video")
	if video.Status != domain.StageSkipped || !strings.Contains(video.Reason, "deadline") {
		t.Fatalf("expected deadline skip, got %+v", video)
	}
	if run.TimeCeilingSeconds <= 0 {
		t.Fatalf("expected time ceiling to be recorded")
	}
}

func TestRunCostCeiling(t *testing.T) {
	t.Parallel()

	build := func() *Graph {
		costly := func(cost float64) func(context.Context, StageInput, int) (StageOutput, error) {
			return func(context.Context, StageInput, int) (StageOutput, error) {
				return StageOutput{CostUSD: cost}, nil
			}
		}
		return mustGraph(t,
			Node{Stage: stage("script", KindScript, costly(0.8))},
			Node{Stage: stage("video", KindVideo, costly(0.5)), DependsOn: []string{"script"}},
			Node{Stage: stage("assembly", KindAssembly, costly(0.1)), DependsOn: []string{"video"}},
		)
	}

	obs := &recordingObserver{}
	soft := newTestOrchestrator(build(), Config{Retry: fastRetry(0), CostCeilingUSD: 1}, WithObserver(obs)).
		Run(context.Background(), seedRecord())
	if soft.Status != domain.RunCompleted || len(soft.Warnings) != 1 {
		t.Fatalf("expected completion with one warning, got %s %v", soft.Status, soft.Warnings)
	}
	if obs.budget.Load() != 1 || obs.stages.Load() != 3 || obs.runs.Load() != 1 {
		t.Fatalf("unexpected observer counts: budget=%d stages=%d runs=%d", obs.budget.Load(), obs.stages.Load(), obs.runs.Load())
	}

	hard := newTestOrchestrator(build(), Config{Retry: fastRetry(0), CostCeilingUSD: 1, BudgetFatal: true}).
		Run(context.Background(), seedRecord())
	assembly, _ := hard.Stage("assembly")
	if assembly.Status != domain.StageSkipped || !strings.Contains(assembly.Reason, "cost ceiling") {
		t.Fatalf("expected budget skip, got %+v", assembly)
	}
}

type recordingObserver struct {
	stages atomic.Int32
	budget atomic.Int32
	runs   atomic.Int32
}

func (r *recordingObserver) StageFinished(domain.StageExecutionRecord) { r.stages.Add(1) }
func (r *recordingObserver) BudgetExceeded()                           { r.budget.Add(1) }
func (r *recordingObserver) RunFinished(domain.OrchestrationRun)       { r.runs.Add(1) }
