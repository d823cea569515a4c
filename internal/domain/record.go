package domain

import (
	"math"
	"time"
)

// PromptRecord is the persisted unit: a scored item with training usage.
type PromptRecord struct {
	ID                 string
	Item               RawItem
	Assessment         QualityAssessment
	UsedForTraining    bool
	TrainingIterations int
	HarvestedAt        time.Time
	AnalyzedAt         time.Time
}

// NewPromptRecord keys a record by the content hash of its item.
func NewPromptRecord(item RawItem, assessment QualityAssessment, now time.Time) PromptRecord {
	rec := PromptRecord{
		ID:          item.Key(),
		Item:        item,
		Assessment:  assessment,
		HarvestedAt: now,
	}
	if assessment.HasAI() {
		rec.AnalyzedAt = now
	}
	return rec
}

// ModelType returns the item hint, defaulting to unknown.
func (p PromptRecord) ModelType() ModelType {
	if p.Item.ModelTypeHint == "" {
		return ModelUnknown
	}
	return p.Item.ModelTypeHint
}

// Validate is run before every write.
func (p PromptRecord) Validate() error {
	if p.ID == "" {
		return NewValidationError("id", "empty record id")
	}
	if err := p.Item.Validate(); err != nil {
		return err
	}
	if p.TrainingIterations < 0 {
		return NewValidationError("trainingIterations", "negative value %d", p.TrainingIterations)
	}
	return p.Assessment.Validate()
}

// TrainingUsage is one row of training-usage history.
type TrainingUsage struct {
	PromptID   string
	AgentID    string
	Iterations int
	Success    bool
	RecordedAt time.Time
}

// TopNQuery filters a ranked read from the store. An empty ModelType matches all.
type TopNQuery struct {
	N         int
	MinScore  float64
	ModelType ModelType
}

// QualityBucket groups records by combined score.
type QualityBucket string

const (
	BucketExcellent QualityBucket = "excellent"
	BucketGood      QualityBucket = "good"
	BucketFair      QualityBucket = "fair"
	BucketPoor      QualityBucket = "poor"
)

// BucketFor maps a combined score to its bucket: >=8 excellent, >=6 good, >=4 fair.
func BucketFor(score float64) QualityBucket {
	switch {
	case score >= 8:
		return BucketExcellent
	case score >= 6:
		return BucketGood
	case score >= 4:
		return BucketFair
	default:
		return BucketPoor
	}
}

// ScoreBin returns the integer histogram bin (0..10) of a score.
func ScoreBin(score float64) int {
	return int(math.Floor(Clamp(score)))
}

// StoreStatistics summarizes the store contents.
type StoreStatistics struct {
	TotalCount        int
	AverageScore      float64
	UsedForTraining   int
	ScoreDistribution map[int]int
	QualityBuckets    map[QualityBucket]int
	ByModelType       map[ModelType]int
}

// NewStoreStatistics returns statistics with all maps initialized.
func NewStoreStatistics() StoreStatistics {
	return StoreStatistics{
		ScoreDistribution: map[int]int{},
		QualityBuckets: map[QualityBucket]int{
			BucketExcellent: 0,
			BucketGood:      0,
			BucketFair:      0,
			BucketPoor:      0,
		},
		ByModelType: map[ModelType]int{},
	}
}

// Add accounts one record.
func (s *StoreStatistics) Add(rec PromptRecord) {
	score := rec.Assessment.CombinedScore
	s.AverageScore = (s.AverageScore*float64(s.TotalCount) + score) / float64(s.TotalCount+1)
	s.TotalCount++
	s.ScoreDistribution[ScoreBin(score)]++
	s.QualityBuckets[BucketFor(score)]++
	s.ByModelType[rec.ModelType()]++
	if rec.UsedForTraining {
		s.UsedForTraining++
	}
}
