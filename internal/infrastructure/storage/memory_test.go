package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"PromptHarvester/internal/domain"
)

var harvestTime = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func record(text string, score float64, model domain.ModelType) domain.PromptRecord {
	item := domain.RawItem{
		Source:        domain.SourceForum,
		Text:          text,
		CreatedAt:     harvestTime.Add(-time.Hour),
		ModelTypeHint: model,
	}
	assessment := domain.QualityAssessment{
		LocalScore:    score,
		CombinedScore: score,
		Breakdown:     map[domain.Component]float64{domain.ComponentHeuristic: score},
		Weights:       map[domain.Component]float64{domain.ComponentHeuristic: 1},
	}
	return domain.NewPromptRecord(item, assessment, harvestTime)
}

func TestMemoryStoreUpsertPreservesTrainingUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	rec := record("dolly shot over a misty lake", 6, domain.ModelVideoA)
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.MarkUsedForTraining(ctx, domain.TrainingUsage{PromptID: rec.ID, AgentID: "video", Iterations: 2, Success: true}); err != nil {
		t.Fatalf("MarkUsedForTraining: %v", err)
	}

	rescored := record("Dolly shot over a  misty lake", 8, domain.ModelVideoA)
	rescored.HarvestedAt = harvestTime.Add(24 * time.Hour)
	if rescored.ID != rec.ID {
		t.Fatalf("content key should match for normalized duplicates")
	}
	if err := store.Upsert(ctx, rescored); err != nil {
		t.Fatalf("Upsert rescored: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Assessment.CombinedScore != 8 {
		t.Fatalf("assessment not refreshed: %.2f", got.Assessment.CombinedScore)
	}
	if !got.UsedForTraining || got.TrainingIterations != 2 || !got.HarvestedAt.Equal(harvestTime) {
		t.Fatalf("training usage or harvest time lost: %+v", got)
	}

	stats, _ := store.Statistics(ctx)
	if stats.TotalCount != 1 {
		t.Fatalf("re-harvest must not create a duplicate, total=%d", stats.TotalCount)
	}
}

func TestMemoryStoreUpsertKeepsAnalyzedAtWithAIScore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	ai := 9.0
	analyzed := record("macro shot of dew on a spider web", 7, domain.ModelVideoB)
	analyzed.Assessment.AIScore = &ai
	analyzed.AnalyzedAt = harvestTime
	if err := store.Upsert(ctx, analyzed); err != nil {
		t.Fatalf("Upsert analyzed: %v", err)
	}

	again := record("macro shot of dew on a spider web", 7.5, domain.ModelVideoB)
	again.Assessment.AIScore = &ai
	if err := store.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	got, _ := store.Get(ctx, analyzed.ID)
	if !got.AnalyzedAt.Equal(harvestTime) {
		t.Fatalf("analysis time should carry over while an AI score is present: %v", got.AnalyzedAt)
	}

	localOnly := record("macro shot of dew on a spider web", 6, domain.ModelVideoB)
	if err := store.Upsert(ctx, localOnly); err != nil {
		t.Fatalf("Upsert local only: %v", err)
	}
	got, _ = store.Get(ctx, analyzed.ID)
	if got.Assessment.HasAI() || !got.AnalyzedAt.IsZero() {
		t.Fatalf("analysis time must be cleared with the AI score: ai=%v analyzedAt=%v", got.Assessment.AIScore, got.AnalyzedAt)
	}
}

func TestMemoryStoreRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	rec := record("valid text", 5, domain.ModelMusic)
	rec.Assessment.CombinedScore = 11
	err := NewMemoryStore().Upsert(context.Background(), rec)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryStoreTopN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	scores := []float64{9.5, 8.1, 7.0, 6.99, 7.7, 8.8, 9.0, 3.2}
	for i, score := range scores {
		model := domain.ModelVideoA
		if i%2 == 1 {
			model = domain.ModelMusic
		}
		if err := store.Upsert(ctx, record(fmt.Sprintf("prompt number %d", i), score, model)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	top, err := store.TopN(ctx, domain.TopNQuery{N: 5, MinScore: 7.0})
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(top) != 5 {
		t.Fatalf("expected 5 records, got %d", len(top))
	}
	for i, rec := range top {
		if rec.Assessment.CombinedScore < 7.0 {
			t.Fatalf("record below minScore: %.2f", rec.Assessment.CombinedScore)
		}
		if i > 0 && rec.Assessment.CombinedScore > top[i-1].Assessment.CombinedScore {
			t.Fatalf("records not sorted descending")
		}
	}

	again, _ := store.TopN(ctx, domain.TopNQuery{N: 5, MinScore: 7.0})
	if !reflect.DeepEqual(top, again) {
		t.Fatalf("topN not stable across calls")
	}

	music, _ := store.TopN(ctx, domain.TopNQuery{N: 10, MinScore: 0, ModelType: domain.ModelMusic})
	if len(music) != 4 {
		t.Fatalf("expected 4 music records, got %d", len(music))
	}
	for _, rec := range music {
		if rec.ModelType() != domain.ModelMusic {
			t.Fatalf("model filter leaked %s", rec.ModelType())
		}
	}

	if _, err := store.TopN(ctx, domain.TopNQuery{N: -1}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative n, got %v", err)
	}
}

func TestMemoryStoreMarkUsedForTraining(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	rec := record("synthwave track with gated drums", 7, domain.ModelMusic)
	_ = store.Upsert(ctx, rec)

	for i := 0; i < 3; i++ {
		if err := store.MarkUsedForTraining(ctx, domain.TrainingUsage{PromptID: rec.ID, AgentID: "music", Iterations: 2}); err != nil {
			t.Fatalf("MarkUsedForTraining: %v", err)
		}
	}
	got, _ := store.Get(ctx, rec.ID)
	if got.TrainingIterations != 6 {
		t.Fatalf("expected 6 iterations, got %d", got.TrainingIterations)
	}
	if len(store.TrainingHistory(rec.ID)) != 3 {
		t.Fatalf("expected 3 history rows")
	}

	err := store.MarkUsedForTraining(ctx, domain.TrainingUsage{PromptID: "missing", AgentID: "music", Iterations: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = store.MarkUsedForTraining(ctx, domain.TrainingUsage{PromptID: rec.ID, AgentID: "music"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero iterations, got %v", err)
	}
}

func TestMemoryStorePatternsAccumulate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	batch := []domain.Pattern{
		{Type: domain.PatternKeyword, Value: "dolly", OccurrenceCount: 2, ModelType: domain.ModelVideoA, AverageQuality: 8},
		{Type: domain.PatternStyle, Value: "lofi", OccurrenceCount: 3, ModelType: domain.ModelMusic, AverageQuality: 5},
	}
	_ = store.RecordPatterns(ctx, batch)
	_ = store.RecordPatterns(ctx, batch[:1])

	video, _ := store.Patterns(ctx, domain.ModelVideoA)
	if len(video) != 1 || video[0].OccurrenceCount != 4 || video[0].AverageQuality != 8 {
		t.Fatalf("unexpected video patterns %+v", video)
	}
	all, _ := store.Patterns(ctx, "")
	if len(all) != 2 || all[0].Value != "dolly" {
		t.Fatalf("unexpected pattern order %+v", all)
	}

	err := store.RecordPatterns(ctx, []domain.Pattern{{Type: "color", Value: "x", OccurrenceCount: 1}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	base := record("neon alley tracking shot", 5, domain.ModelVideoA)
	_ = store.Upsert(ctx, base)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.MarkUsedForTraining(ctx, domain.TrainingUsage{PromptID: base.ID, AgentID: "video", Iterations: 1})
		}()
		go func(score float64) {
			defer wg.Done()
			_ = store.Upsert(ctx, record("neon alley tracking shot", score, domain.ModelVideoA))
			top, _ := store.TopN(ctx, domain.TopNQuery{N: 1})
			if len(top) == 1 {
				if err := top[0].Assessment.Validate(); err != nil {
					t.Errorf("observed partial record: %v", err)
				}
			}
		}(float64(i%10) + 0.5)
	}
	wg.Wait()

	got, _ := store.Get(ctx, base.ID)
	if got.TrainingIterations != 50 {
		t.Fatalf("lost training increments: %d", got.TrainingIterations)
	}
}
