package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/ports"
)

const checkViolation = "23514"

var recordColumns = []string{
	"id", "source", "source_name", "external_id", "url", "text",
	"upvotes", "comments", "views", "created_at", "model_type",
	"local_score", "ai_score", "combined_score", "breakdown", "weights",
	"used_for_training", "training_iterations", "harvested_at", "analyzed_at",
}

// PostgresStore persists prompt records, patterns and training usage into Postgres.
type PostgresStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType
	now  func() time.Time
}

var _ ports.PromptStore = (*PostgresStore)(nil)

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  time.Now,
	}
}

// EnsureSchema creates the tables and indexes when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert writes the whole record in one statement. An existing row keeps its
// harvest time and training usage; analyzed_at is cleared with the AI score.
func (s *PostgresStore) Upsert(ctx context.Context, record domain.PromptRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	breakdown, err := json.Marshal(record.Assessment.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	weights, err := json.Marshal(record.Assessment.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	item := record.Item
	query, args, err := s.psql.Insert("prompt_records").
		Columns(recordColumns...).
		Values(
			record.ID, string(item.Source), item.SourceName, item.ExternalID, item.URL, item.Text,
			item.Engagement.Upvotes, item.Engagement.Comments, item.Engagement.Views, item.CreatedAt,
			string(record.ModelType()),
			record.Assessment.LocalScore, nullFloat(record.Assessment.AIScore), record.Assessment.CombinedScore,
			breakdown, weights,
			record.UsedForTraining, record.TrainingIterations, record.HarvestedAt, nullTime(record.AnalyzedAt),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE
              SET source_name = EXCLUDED.source_name,
                  url = EXCLUDED.url,
                  upvotes = EXCLUDED.upvotes,
                  comments = EXCLUDED.comments,
                  views = EXCLUDED.views,
                  model_type = EXCLUDED.model_type,
                  local_score = EXCLUDED.local_score,
                  ai_score = EXCLUDED.ai_score,
                  combined_score = EXCLUDED.combined_score,
                  breakdown = EXCLUDED.breakdown,
                  weights = EXCLUDED.weights,
                  analyzed_at = CASE WHEN EXCLUDED.ai_score IS NULL THEN NULL
                                     ELSE COALESCE(EXCLUDED.analyzed_at, prompt_records.analyzed_at) END`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return translateError("upsert prompt", err)
	}
	return nil
}

// Get returns a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.PromptRecord, error) {
	query, args, err := s.psql.Select(recordColumns...).
		From("prompt_records").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.PromptRecord{}, fmt.Errorf("build get: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PromptRecord{}, fmt.Errorf("prompt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PromptRecord{}, fmt.Errorf("get prompt: %w", err)
	}
	return rec, nil
}

// Existing returns a map with IDs that already exist in storage.
func (s *PostgresStore) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM prompt_records WHERE id = ANY($1)`, pq.StringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query existing: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// TopN returns at most q.N records at or above q.MinScore, best first.
func (s *PostgresStore) TopN(ctx context.Context, q domain.TopNQuery) ([]domain.PromptRecord, error) {
	if err := validateTopN(q); err != nil {
		return nil, err
	}
	if q.N == 0 {
		return nil, nil
	}

	builder := s.psql.Select(recordColumns...).
		From("prompt_records").
		Where(sq.GtOrEq{"combined_score": q.MinScore})
	if q.ModelType != "" {
		builder = builder.Where(sq.Eq{"model_type": string(q.ModelType)})
	}
	query, args, err := builder.
		OrderBy("combined_score DESC", "created_at DESC", "id").
		Limit(uint64(q.N)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topN: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topN: %w", err)
	}
	defer rows.Close()

	var out []domain.PromptRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// RecordPatterns merges the batch into stored aggregates in one transaction.
func (s *PostgresStore) RecordPatterns(ctx context.Context, patterns []domain.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	for _, p := range patterns {
		if err := validatePattern(p); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patterns tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	for _, p := range patterns {
		query, args, err := s.psql.Insert("prompt_patterns").
			Columns("type", "value", "model_type", "occurrence_count", "average_quality", "updated_at").
			Values(string(p.Type), p.Value, string(p.ModelType), p.OccurrenceCount, p.AverageQuality, now).
			Suffix(`ON CONFLICT (type, value, model_type) DO UPDATE
              SET average_quality = (prompt_patterns.average_quality * prompt_patterns.occurrence_count
                                     + EXCLUDED.average_quality * EXCLUDED.occurrence_count)
                                    / (prompt_patterns.occurrence_count + EXCLUDED.occurrence_count),
                  occurrence_count = prompt_patterns.occurrence_count + EXCLUDED.occurrence_count,
                  updated_at = EXCLUDED.updated_at`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build pattern upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translateError("upsert pattern", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patterns: %w", err)
	}
	return nil
}

// Patterns lists stored patterns, optionally filtered by model type.
func (s *PostgresStore) Patterns(ctx context.Context, modelType domain.ModelType) ([]domain.Pattern, error) {
	builder := s.psql.Select("type", "value", "model_type", "occurrence_count", "average_quality").
		From("prompt_patterns")
	if modelType != "" {
		builder = builder.Where(sq.Eq{"model_type": string(modelType)})
	}
	query, args, err := builder.
		OrderBy("occurrence_count DESC", "average_quality DESC", "type", "value", "model_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build patterns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		var p domain.Pattern
		var kind, model string
		if err := rows.Scan(&kind, &p.Value, &model, &p.OccurrenceCount, &p.AverageQuality); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Type = domain.PatternType(kind)
		p.ModelType = domain.ModelType(model)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// MarkUsedForTraining increments the counter and appends a history row atomically.
func (s *PostgresStore) MarkUsedForTraining(ctx context.Context, usage domain.TrainingUsage) error {
	if err := validateUsage(usage); err != nil {
		return err
	}
	if usage.RecordedAt.IsZero() {
		usage.RecordedAt = s.now().UTC()
	}

	update, updateArgs, err := s.psql.Update("prompt_records").
		Set("used_for_training", true).
		Set("training_iterations", sq.Expr("training_iterations + ?", usage.Iterations)).
		Where(sq.Eq{"id": usage.PromptID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build training update: %w", err)
	}
	insert, insertArgs, err := s.psql.Insert("training_usage").
		Columns("prompt_id", "agent_id", "iterations", "success", "recorded_at").
		Values(usage.PromptID, usage.AgentID, usage.Iterations, usage.Success, usage.RecordedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build training insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin training tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, update, updateArgs...)
	if err != nil {
		return translateError("mark training", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("prompt %s: %w", usage.PromptID, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return translateError("insert training usage", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit training: %w", err)
	}
	return nil
}

// Statistics aggregates counts, the score histogram and model-type split.
func (s *PostgresStore) Statistics(ctx context.Context) (domain.StoreStatistics, error) {
	stats := domain.NewStoreStatistics()

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(combined_score), 0),
        COUNT(*) FILTER (WHERE used_for_training) FROM prompt_records`)
	if err := row.Scan(&stats.TotalCount, &stats.AverageScore, &stats.UsedForTraining); err != nil {
		return domain.StoreStatistics{}, fmt.Errorf("query totals: %w", err)
	}

	bins, err := s.db.QueryContext(ctx, `SELECT FLOOR(combined_score)::int AS bin, COUNT(*)
        FROM prompt_records GROUP BY bin ORDER BY bin`)
	if err != nil {
		return domain.StoreStatistics{}, fmt.Errorf("query distribution: %w", err)
	}
	defer bins.Close()
	for bins.Next() {
		var bin, count int
		if err := bins.Scan(&bin, &count); err != nil {
			return domain.StoreStatistics{}, fmt.Errorf("scan bin: %w", err)
		}
		stats.ScoreDistribution[bin] = count
		stats.QualityBuckets[domain.BucketFor(float64(bin))] += count
	}
	if err := bins.Err(); err != nil {
		return domain.StoreStatistics{}, fmt.Errorf("rows iteration: %w", err)
	}

	models, err := s.db.QueryContext(ctx, `SELECT model_type, COUNT(*) FROM prompt_records GROUP BY model_type ORDER BY model_type`)
	if err != nil {
		return domain.StoreStatistics{}, fmt.Errorf("query model types: %w", err)
	}
	defer models.Close()
	for models.Next() {
		var model string
		var count int
		if err := models.Scan(&model, &count); err != nil {
			return domain.StoreStatistics{}, fmt.Errorf("scan model type: %w", err)
		}
		stats.ByModelType[domain.ModelType(model)] = count
	}
	if err := models.Err(); err != nil {
		return domain.StoreStatistics{}, fmt.Errorf("rows iteration: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.PromptRecord, error) {
	var (
		rec                      domain.PromptRecord
		source, model            string
		aiScore                  sql.NullFloat64
		analyzedAt               sql.NullTime
		breakdownRaw, weightsRaw []byte
	)
	err := row.Scan(
		&rec.ID, &source, &rec.Item.SourceName, &rec.Item.ExternalID, &rec.Item.URL, &rec.Item.Text,
		&rec.Item.Engagement.Upvotes, &rec.Item.Engagement.Comments, &rec.Item.Engagement.Views,
		&rec.Item.CreatedAt, &model,
		&rec.Assessment.LocalScore, &aiScore, &rec.Assessment.CombinedScore, &breakdownRaw, &weightsRaw,
		&rec.UsedForTraining, &rec.TrainingIterations, &rec.HarvestedAt, &analyzedAt,
	)
	if err != nil {
		return domain.PromptRecord{}, err
	}

	rec.Item.Source = domain.SourceKind(source)
	rec.Item.ModelTypeHint = domain.ModelType(model)
	if aiScore.Valid {
		v := aiScore.Float64
		rec.Assessment.AIScore = &v
	}
	if analyzedAt.Valid {
		rec.AnalyzedAt = analyzedAt.Time
	}
	if err := json.Unmarshal(breakdownRaw, &rec.Assessment.Breakdown); err != nil {
		return domain.PromptRecord{}, fmt.Errorf("decode breakdown: %w", err)
	}
	if err := json.Unmarshal(weightsRaw, &rec.Assessment.Weights); err != nil {
		return domain.PromptRecord{}, fmt.Errorf("decode weights: %w", err)
	}
	return rec, nil
}

func translateError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == checkViolation {
		return domain.NewValidationError(pqErr.Constraint, "%s rejected by database: %s", op, pqErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
