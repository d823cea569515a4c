package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/ports"
)

const lockStripes = 64

// MemoryStore keeps prompt records in process memory. Writes to the same
// record are serialized by a striped per-key lock; reads run concurrently
// and only ever observe fully built records.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]domain.PromptRecord
	patterns map[domain.PatternKey]domain.Pattern
	usage    []domain.TrainingUsage
	stripes  [lockStripes]sync.Mutex
}

var _ ports.PromptStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  map[string]domain.PromptRecord{},
		patterns: map[domain.PatternKey]domain.Pattern{},
	}
}

func (s *MemoryStore) lockKey(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &s.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Upsert inserts a record or refreshes the item and assessment of an
// existing one. Harvest time and training usage of the stored record survive.
func (s *MemoryStore) Upsert(ctx context.Context, record domain.PromptRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	unlock := s.lockKey(record.ID)
	defer unlock()

	s.mu.RLock()
	existing, ok := s.records[record.ID]
	s.mu.RUnlock()

	next := cloneRecord(record)
	if ok {
		next = mergeRecord(existing, next)
	}

	s.mu.Lock()
	s.records[record.ID] = next
	s.mu.Unlock()
	return nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (domain.PromptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.PromptRecord{}, fmt.Errorf("prompt %s: %w", id, domain.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// Existing reports which of ids are already stored.
func (s *MemoryStore) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// TopN returns at most q.N records at or above q.MinScore, best first.
func (s *MemoryStore) TopN(ctx context.Context, q domain.TopNQuery) ([]domain.PromptRecord, error) {
	if err := validateTopN(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]domain.PromptRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Assessment.CombinedScore < q.MinScore {
			continue
		}
		if q.ModelType != "" && rec.ModelType() != q.ModelType {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sortRecords(matched)
	if len(matched) > q.N {
		matched = matched[:q.N]
	}
	return matched, nil
}

// RecordPatterns merges observed patterns into the stored aggregates.
func (s *MemoryStore) RecordPatterns(ctx context.Context, patterns []domain.Pattern) error {
	for _, p := range patterns {
		if err := validatePattern(p); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		key := p.Key()
		if existing, ok := s.patterns[key]; ok {
			s.patterns[key] = existing.Merge(p)
			continue
		}
		s.patterns[key] = p
	}
	return nil
}

// Patterns lists stored patterns, optionally filtered by model type.
func (s *MemoryStore) Patterns(ctx context.Context, modelType domain.ModelType) ([]domain.Pattern, error) {
	s.mu.RLock()
	out := make([]domain.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if modelType == "" || p.ModelType == modelType {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	domain.SortPatterns(out)
	return out, nil
}

// MarkUsedForTraining flags the record and adds usage.Iterations to its counter.
func (s *MemoryStore) MarkUsedForTraining(ctx context.Context, usage domain.TrainingUsage) error {
	if err := validateUsage(usage); err != nil {
		return err
	}
	unlock := s.lockKey(usage.PromptID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[usage.PromptID]
	if !ok {
		return fmt.Errorf("prompt %s: %w", usage.PromptID, domain.ErrNotFound)
	}
	rec.UsedForTraining = true
	rec.TrainingIterations += usage.Iterations
	s.records[usage.PromptID] = rec
	s.usage = append(s.usage, usage)
	return nil
}

// TrainingHistory returns usage rows for a prompt in insertion order.
func (s *MemoryStore) TrainingHistory(promptID string) []domain.TrainingUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrainingUsage
	for _, u := range s.usage {
		if u.PromptID == promptID {
			out = append(out, u)
		}
	}
	return out
}

// Statistics summarizes the stored records.
func (s *MemoryStore) Statistics(ctx context.Context) (domain.StoreStatistics, error) {
	stats := domain.NewStoreStatistics()

	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		stats.Add(s.records[id])
	}
	s.mu.RUnlock()

	return stats, nil
}

func mergeRecord(existing, incoming domain.PromptRecord) domain.PromptRecord {
	incoming.HarvestedAt = existing.HarvestedAt
	incoming.UsedForTraining = existing.UsedForTraining
	incoming.TrainingIterations = existing.TrainingIterations
	switch {
	case !incoming.Assessment.HasAI():
		incoming.AnalyzedAt = time.Time{}
	case incoming.AnalyzedAt.IsZero():
		incoming.AnalyzedAt = existing.AnalyzedAt
	}
	return incoming
}

func cloneRecord(rec domain.PromptRecord) domain.PromptRecord {
	rec.Assessment = rec.Assessment.Clone()
	return rec
}

func sortRecords(records []domain.PromptRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Assessment.CombinedScore != b.Assessment.CombinedScore {
			return a.Assessment.CombinedScore > b.Assessment.CombinedScore
		}
		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func validateTopN(q domain.TopNQuery) error {
	if q.N < 0 {
		return domain.NewValidationError("n", "must not be negative")
	}
	if q.MinScore < 0 || q.MinScore > domain.MaxScore {
		return domain.NewValidationError("minScore", "%.2f outside [0,10]", q.MinScore)
	}
	return nil
}

func validatePattern(p domain.Pattern) error {
	switch p.Type {
	case domain.PatternKeyword, domain.PatternStructure, domain.PatternStyle:
	default:
		return domain.NewValidationError("pattern.type", "unknown type %q", p.Type)
	}
	if p.Value == "" {
		return domain.NewValidationError("pattern.value", "empty value")
	}
	if p.OccurrenceCount <= 0 {
		return domain.NewValidationError("pattern.occurrenceCount", "must be positive")
	}
	return nil
}

func validateUsage(u domain.TrainingUsage) error {
	if u.PromptID == "" || u.AgentID == "" {
		return domain.NewValidationError("usage", "prompt and agent ids are required")
	}
	if u.Iterations <= 0 {
		return domain.NewValidationError("usage.iterations", "must be positive, got %d", u.Iterations)
	}
	return nil
}
