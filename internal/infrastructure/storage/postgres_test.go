package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"PromptHarvester/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPostgresStore(db)
	store.now = func() time.Time { return harvestTime }
	return store, mock
}

func TestPostgresStoreUpsert(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO prompt_records \(id,source,.+\) VALUES \(\$1,\$2,.+\$20\) ON CONFLICT \(id\) DO UPDATE.+analyzed_at = CASE WHEN EXCLUDED.ai_score IS NULL THEN NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Upsert(context.Background(), record("rain on neon street, tracking shot", 7.2, domain.ModelVideoA)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreUpsertValidatesBeforeQuery(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rec := record("x", 5, domain.ModelMusic)
	rec.Assessment.CombinedScore = -1
	if err := store.Upsert(context.Background(), rec); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statement should run: %v", err)
	}
}

func TestPostgresStoreUpsertTranslatesCheckViolation(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO prompt_records`).
		WillReturnError(&pq.Error{Code: "23514", Constraint: "prompt_records_combined_score_check", Message: "violates check"})

	err := store.Upsert(context.Background(), record("valid prompt text", 5, domain.ModelMusic))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPostgresStoreTopN(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := harvestTime.Add(-time.Hour)
	rows := sqlmock.NewRows(recordColumns).
		AddRow("id-1", "forum", "reddit", "a1", "https://r/a1", "dolly shot over fjords", int64(150), int64(25), int64(0), created, "video-a",
			7.9, 8.5, 8.3, []byte(`{"heuristic":7,"ai":8.5}`), []byte(`{"ai":0.4,"heuristic":0.2}`), true, int64(3), harvestTime, harvestTime).
		AddRow("id-2", "web", "blog", "", "", "aerial city timelapse", int64(0), int64(0), int64(0), created, "video-a",
			7.4, nil, 7.4, []byte(`{"heuristic":7.4}`), []byte(`{"heuristic":1}`), false, int64(0), harvestTime, nil)

	mock.ExpectQuery(`SELECT id, source, .+ FROM prompt_records WHERE combined_score >= \$1 AND model_type = \$2 ORDER BY combined_score DESC, created_at DESC, id LIMIT 5`).
		WithArgs(7.0, "video-a").
		WillReturnRows(rows)

	got, err := store.TopN(context.Background(), domain.TopNQuery{N: 5, MinScore: 7.0, ModelType: domain.ModelVideoA})
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	first := got[0]
	if first.Assessment.AIScore == nil || *first.Assessment.AIScore != 8.5 {
		t.Fatalf("ai score not decoded: %+v", first.Assessment)
	}
	if first.Assessment.Breakdown[domain.ComponentAI] != 8.5 || first.Item.Engagement.Upvotes != 150 {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.TrainingIterations != 3 || !first.UsedForTraining || first.AnalyzedAt.IsZero() {
		t.Fatalf("training fields not decoded: %+v", first)
	}
	if got[1].Assessment.AIScore != nil || !got[1].AnalyzedAt.IsZero() {
		t.Fatalf("null columns should stay empty: %+v", got[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreMarkUsedForTraining(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE prompt_records SET used_for_training = \$1, training_iterations = training_iterations \+ \$2 WHERE id = \$3`).
		WithArgs(true, 2, "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO training_usage \(prompt_id,agent_id,iterations,success,recorded_at\)`).
		WithArgs("id-1", "music", 2, true, harvestTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.MarkUsedForTraining(context.Background(), domain.TrainingUsage{PromptID: "id-1", AgentID: "music", Iterations: 2, Success: true})
	if err != nil {
		t.Fatalf("MarkUsedForTraining: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreMarkUsedForTrainingMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE prompt_records`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.MarkUsedForTraining(context.Background(), domain.TrainingUsage{PromptID: "nope", AgentID: "music", Iterations: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreRecordPatterns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO prompt_patterns .+ ON CONFLICT \(type, value, model_type\) DO UPDATE`).
		WithArgs("keyword", "dolly", "video-a", 3, 7.5, harvestTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RecordPatterns(context.Background(), []domain.Pattern{
		{Type: domain.PatternKeyword, Value: "dolly", ModelType: domain.ModelVideoA, OccurrenceCount: 3, AverageQuality: 7.5},
	})
	if err != nil {
		t.Fatalf("RecordPatterns: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreExisting(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id FROM prompt_records WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))

	got, err := store.Existing(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Existing: %v", err)
	}
	if !got["a"] || got["b"] {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestPostgresStoreStatistics(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(AVG\(combined_score\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg", "used"}).AddRow(4, 7.1, 1))
	mock.ExpectQuery(`SELECT FLOOR\(combined_score\)::int AS bin`).
		WillReturnRows(sqlmock.NewRows([]string{"bin", "count"}).AddRow(3, 1).AddRow(7, 1).AddRow(9, 2))
	mock.ExpectQuery(`SELECT model_type, COUNT\(\*\) FROM prompt_records`).
		WillReturnRows(sqlmock.NewRows([]string{"model_type", "count"}).AddRow("music", 1).AddRow("video-a", 3))

	stats, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalCount != 4 || stats.UsedForTraining != 1 || stats.AverageScore != 7.1 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.QualityBuckets[domain.BucketExcellent] != 2 || stats.QualityBuckets[domain.BucketGood] != 1 || stats.QualityBuckets[domain.BucketPoor] != 1 {
		t.Fatalf("unexpected buckets %+v", stats.QualityBuckets)
	}
	if stats.ByModelType[domain.ModelVideoA] != 3 {
		t.Fatalf("unexpected model split %+v", stats.ByModelType)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
