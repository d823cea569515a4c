package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"PromptHarvester/internal/domain"
)

func TestMetricsRecordEvents(t *testing.T) {
	t.Parallel()

	m := New()
	m.SourceCollected("reddit", 12, false)
	m.SourceCollected("youtube", 0, true)
	m.AnalyzerFallback()
	m.StageFinished(domain.StageExecutionRecord{Kind: "video", Status: domain.StageCompleted, Attempts: 3, ElapsedSeconds: 4})
	m.StageFinished(domain.StageExecutionRecord{Kind: "assembly", Status: domain.StageSkipped})
	m.BudgetExceeded()
	m.RunFinished(domain.OrchestrationRun{TotalCostUSD: 0.4, SuccessRatePercent: 50})

	if got := testutil.ToFloat64(m.itemsHarvested.WithLabelValues("reddit")); got != 12 {
		t.Fatalf("items harvested = %v", got)
	}
	if got := testutil.ToFloat64(m.sourcesUnavailable.WithLabelValues("youtube")); got != 1 {
		t.Fatalf("sources unavailable = %v", got)
	}
	if got := testutil.ToFloat64(m.stageAttempts.WithLabelValues("video")); got != 3 {
		t.Fatalf("stage attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.stageOutcomes.WithLabelValues("assembly", "skipped")); got != 1 {
		t.Fatalf("skipped outcomes = %v", got)
	}
	if got := testutil.ToFloat64(m.runSuccessRate); got != 50 {
		t.Fatalf("success rate = %v", got)
	}
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	t.Parallel()

	m := New()
	m.BudgetExceeded()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "prompt_harvester_budget_warnings_total 1") {
		t.Fatalf("metrics output missing budget counter:\n%s", body)
	}
}
