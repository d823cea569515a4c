package insight

import (
	"fmt"
	"math"
	"strings"

	"PromptHarvester/internal/domain"
)

// Rubric weights for the three [0,100] quality metrics.
const (
	outputSuccessWeight      = 0.7
	outputFirstAttemptWeight = 0.3

	audienceSeedWeight    = 0.6
	audienceSuccessWeight = 0.4

	efficiencyCostWeight = 0.5
	efficiencyTimeWeight = 0.5
)

// Reporter turns finished runs into insight summaries.
type Reporter struct{}

// NewReporter returns a stateless reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Summarize derives the summary for run, comparing against prior runs when given.
// The result depends only on its inputs.
func (r *Reporter) Summarize(run domain.OrchestrationRun, prior ...domain.OrchestrationRun) domain.InsightSummary {
	summary := summarize(run)
	if len(prior) > 0 {
		summary.Trend = trend(summary, run, prior)
	}
	return summary
}

func summarize(run domain.OrchestrationRun) domain.InsightSummary {
	summary := domain.InsightSummary{
		RunID:    run.RunID,
		Status:   run.Status,
		Warnings: append([]string(nil), run.Warnings...),
	}

	firstTry := 0
	for _, rec := range run.StageExecutions {
		switch rec.Status {
		case domain.StageCompleted:
			summary.SuccessfulPatterns = append(summary.SuccessfulPatterns, rec.Kind+":"+rec.StageID)
			if rec.Attempts <= 1 {
				firstTry++
			}
			summary.Fastest = pick(summary.Fastest, rec.StageID, rec.ElapsedSeconds)
			summary.Cheapest = pick(summary.Cheapest, rec.StageID, rec.CostUSD)
		case domain.StageFailed:
			summary.Failures = append(summary.Failures, domain.FailureResolution{
				StageID:    rec.StageID,
				Error:      rec.Error,
				Retries:    rec.Retries,
				Resolution: resolutionFor(rec),
			})
		case domain.StageSkipped:
			summary.Skipped = append(summary.Skipped, fmt.Sprintf("%s: %s", rec.StageID, rec.Reason))
		}
	}

	success := run.SuccessRatePercent
	firstRate := 0.0
	if n := len(run.StageExecutions); n > 0 {
		firstRate = float64(firstTry) / float64(n) * 100
	}

	summary.OutputQuality = bound(outputSuccessWeight*success + outputFirstAttemptWeight*firstRate)
	summary.AudienceFit = bound(audienceSeedWeight*run.SeedScore*10 + audienceSuccessWeight*success)
	summary.ProductionEfficiency = bound(
		efficiencyCostWeight*headroom(run.TotalCostUSD, run.CostCeilingUSD) +
			efficiencyTimeWeight*headroom(run.WallClockSeconds, run.TimeCeilingSeconds),
	)
	return summary
}

// pick keeps the lower value; ties go to the earlier stage in declaration order.
func pick(cur *domain.StageHighlight, id string, value float64) *domain.StageHighlight {
	if cur == nil || value < cur.Value {
		return &domain.StageHighlight{StageID: id, Value: value}
	}
	return cur
}

func headroom(used, ceiling float64) float64 {
	if ceiling <= 0 {
		return 100
	}
	return bound((1 - used/ceiling) * 100)
}

func bound(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Round(math.Max(0, math.Min(100, v))*100) / 100
}

var resolutions = []struct {
	needles    []string
	resolution string
}{
	{[]string{"panicked"}, "fix the stage implementation; it panicked"},
	{[]string{"429", "rate limit", "quota"}, "lower the request rate or raise the provider quota"},
	{[]string{"401", "403", "unauthorized", "forbidden", "api key"}, "check the provider credentials"},
	{[]string{"timeout", "deadline"}, "raise the stage timeout or the run deadline"},
	{[]string{"400", "422", "invalid", "rejected"}, "revise the seed prompt; the provider rejected the input"},
	{[]string{"500", "502", "503", "504", "unavailable"}, "provider outage; retry in the next cycle"},
}

func resolutionFor(rec domain.StageExecutionRecord) string {
	msg := strings.ToLower(rec.Error)
	for _, r := range resolutions {
		for _, needle := range r.needles {
			if strings.Contains(msg, needle) {
				return r.resolution
			}
		}
	}
	if rec.Reason != "" {
		return rec.Reason
	}
	return fmt.Sprintf("still failing after %d retries; inspect the stage logs", rec.Retries)
}

func trend(current domain.InsightSummary, run domain.OrchestrationRun, prior []domain.OrchestrationRun) *domain.Trend {
	var success, cost, output, audience, efficiency float64
	for _, p := range prior {
		s := summarize(p)
		success += p.SuccessRatePercent
		cost += p.TotalCostUSD
		output += s.OutputQuality
		audience += s.AudienceFit
		efficiency += s.ProductionEfficiency
	}
	n := float64(len(prior))
	return &domain.Trend{
		PriorRuns:                 len(prior),
		SuccessRateDelta:          round2(run.SuccessRatePercent - success/n),
		CostDelta:                 round2(run.TotalCostUSD - cost/n),
		OutputQualityDelta:        round2(current.OutputQuality - output/n),
		AudienceFitDelta:          round2(current.AudienceFit - audience/n),
		ProductionEfficiencyDelta: round2(current.ProductionEfficiency - efficiency/n),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Digest renders a Markdown summary suitable for chat notifications.
func Digest(summary domain.InsightSummary, patterns []domain.Pattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Run %s*: %s\n", summary.RunID, summary.Status)
	fmt.Fprintf(&b, "Output quality %.1f | Audience fit %.1f | Efficiency %.1f\n",
		summary.OutputQuality, summary.AudienceFit, summary.ProductionEfficiency)

	if summary.Fastest != nil {
		fmt.Fprintf(&b, "Fastest: %s (%.1fs)\n", summary.Fastest.StageID, summary.Fastest.Value)
	}
	if summary.Cheapest != nil {
		fmt.Fprintf(&b, "Cheapest: %s ($%.2f)\n", summary.Cheapest.StageID, summary.Cheapest.Value)
	}
	if len(summary.SuccessfulPatterns) > 0 {
		fmt.Fprintf(&b, "Completed: %s\n", strings.Join(summary.SuccessfulPatterns, ", "))
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(&b, "- failed %s after %d retries: %s\n", f.StageID, f.Retries, f.Resolution)
	}
	for _, s := range summary.Skipped {
		fmt.Fprintf(&b, "- skipped %s\n", s)
	}
	for _, w := range summary.Warnings {
		fmt.Fprintf(&b, "- warning: %s\n", w)
	}
	if t := summary.Trend; t != nil {
		fmt.Fprintf(&b, "Trend vs %d prior runs: success %+.1f, cost %+.2f\n", t.PriorRuns, t.SuccessRateDelta, t.CostDelta)
	}

	if len(patterns) > 0 {
		top := append([]domain.Pattern(nil), patterns...)
		domain.SortPatterns(top)
		if len(top) > 5 {
			top = top[:5]
		}
		names := make([]string, 0, len(top))
		for _, p := range top {
			names = append(names, fmt.Sprintf("%s (%d)", p.Value, p.OccurrenceCount))
		}
		fmt.Fprintf(&b, "Top patterns: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}
