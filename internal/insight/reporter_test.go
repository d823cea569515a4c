package insight

import (
	"strings"
	"testing"

	"PromptHarvester/internal/domain"
)

func sampleRun() domain.OrchestrationRun {
	return domain.OrchestrationRun{
		RunID:              "run-7",
		Status:             domain.RunPartiallyFailed,
		SeedScore:          8,
		CostCeilingUSD:     2,
		TimeCeilingSeconds: 100,
		WallClockSeconds:   50,
		TotalCostUSD:       1,
		SuccessRatePercent: 50,
		Warnings:           []string{"running cost $1.00 exceeds ceiling $0.50"},
		StageExecutions: []domain.StageExecutionRecord{
			{StageID: "script", Kind: "script", Status: domain.StageCompleted, Attempts: 1, ElapsedSeconds: 4, CostUSD: 0.2},
			{StageID: "video", Kind: "video", Status: domain.StageCompleted, Attempts: 3, Retries: 2, ElapsedSeconds: 2, CostUSD: 0.8},
			{StageID: "music", Kind: "music", Status: domain.StageFailed, Attempts: 4, Retries: 3, Error: "terminal stage failure: status 429 Too Many Requests"},
			{StageID: "assembly", Kind: "assembly", Status: domain.StageSkipped, Reason: "dependency music failed"},
		},
	}
}

func TestSummarizeAppliesRubric(t *testing.T) {
	t.Parallel()

	s := NewReporter().Summarize(sampleRun())

	// 0.7*50 + 0.3*25
	if s.OutputQuality != 42.5 {
		t.Fatalf("output quality = %v, want 42.5", s.OutputQuality)
	}
	// 0.6*80 + 0.4*50
	if s.AudienceFit != 68 {
		t.Fatalf("audience fit = %v, want 68", s.AudienceFit)
	}
	// 0.5*50 + 0.5*50
	if s.ProductionEfficiency != 50 {
		t.Fatalf("efficiency = %v, want 50", s.ProductionEfficiency)
	}
	if s.Fastest == nil || s.Fastest.StageID != "video" {
		t.Fatalf("unexpected fastest: %+v", s.Fastest)
	}
	if s.Cheapest == nil || s.Cheapest.StageID != "script" {
		t.Fatalf("unexpected cheapest: %+v", s.Cheapest)
	}
	if len(s.Failures) != 1 || s.Failures[0].Retries != 3 || !strings.Contains(s.Failures[0].Resolution, "request rate") {
		t.Fatalf("unexpected failures: %+v", s.Failures)
	}
	if len(s.Skipped) != 1 || !strings.HasPrefix(s.Skipped[0], "assembly") {
		t.Fatalf("unexpected skipped: %v", s.Skipped)
	}
	if strings.Join(s.SuccessfulPatterns, ",") != "script:script,video:video" {
		t.Fatalf("unexpected patterns: %v", s.SuccessfulPatterns)
	}
	if s.Trend != nil {
		t.Fatalf("trend requires prior runs")
	}
}

func TestSummarizeIsDeterministicAndBounded(t *testing.T) {
	t.Parallel()

	run := sampleRun()
	run.TotalCostUSD = 10
	run.WallClockSeconds = 1000
	run.SeedScore = 10

	r := NewReporter()
	a, b := r.Summarize(run), r.Summarize(run)
	if a.OutputQuality != b.OutputQuality || a.AudienceFit != b.AudienceFit || a.ProductionEfficiency != b.ProductionEfficiency {
		t.Fatalf("summaries differ: %+v vs %+v", a, b)
	}
	for _, v := range []float64{a.OutputQuality, a.AudienceFit, a.ProductionEfficiency} {
		if v < 0 || v > 100 {
			t.Fatalf("metric out of bounds: %v", v)
		}
	}
	if a.ProductionEfficiency != 0 {
		t.Fatalf("expected zero headroom, got %v", a.ProductionEfficiency)
	}
}

func TestSummarizeWithoutCeilingsIsFullyEfficient(t *testing.T) {
	t.Parallel()

	s := NewReporter().Summarize(domain.OrchestrationRun{RunID: "r", TotalCostUSD: 3, WallClockSeconds: 30})
	if s.ProductionEfficiency != 100 {
		t.Fatalf("expected 100 without ceilings, got %v", s.ProductionEfficiency)
	}
}

func TestSummarizeTrendAgainstPriorMean(t *testing.T) {
	t.Parallel()

	current := sampleRun()
	prior1 := sampleRun()
	prior1.SuccessRatePercent = 25
	prior1.TotalCostUSD = 2
	prior2 := sampleRun()
	prior2.SuccessRatePercent = 75
	prior2.TotalCostUSD = 0

	s := NewReporter().Summarize(current, prior1, prior2)
	if s.Trend == nil || s.Trend.PriorRuns != 2 {
		t.Fatalf("expected trend over 2 runs, got %+v", s.Trend)
	}
	if s.Trend.SuccessRateDelta != 0 || s.Trend.CostDelta != 0 {
		t.Fatalf("unexpected deltas: %+v", s.Trend)
	}
}

func TestDigestListsFailuresAndPatterns(t *testing.T) {
	t.Parallel()

	s := NewReporter().Summarize(sampleRun())
	patterns := []domain.Pattern{
		{Type: domain.PatternKeyword, Value: "dolly", OccurrenceCount: 4, AverageQuality: 7},
		{Type: domain.PatternStyle, Value: "noir", OccurrenceCount: 2, AverageQuality: 8},
	}
	out := Digest(s, patterns)

	for _, want := range []string{"*Run run-7*", "failed music after 3 retries", "skipped assembly", "warning:", "dolly (4), noir (2)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("digest missing %q:\n%s", want, out)
		}
	}
}
