package ports

import (
	"context"
	"time"

	"PromptHarvester/internal/domain"
)

// LanguageModel sends a single prompt to an external model and returns its raw text reply.
type LanguageModel interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// PromptStore persists scored prompts, patterns and training history.
type PromptStore interface {
	Upsert(ctx context.Context, record domain.PromptRecord) error
	Get(ctx context.Context, id string) (domain.PromptRecord, error)
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
	TopN(ctx context.Context, query domain.TopNQuery) ([]domain.PromptRecord, error)
	RecordPatterns(ctx context.Context, patterns []domain.Pattern) error
	Patterns(ctx context.Context, modelType domain.ModelType) ([]domain.Pattern, error)
	MarkUsedForTraining(ctx context.Context, usage domain.TrainingUsage) error
	Statistics(ctx context.Context) (domain.StoreStatistics, error)
}

// Notifier streams cycle digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// ReportSink archives machine-readable cycle reports.
type ReportSink interface {
	Store(ctx context.Context, key string, payload []byte) (string, error)
}

// Scheduler controls when cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
