package scoring

import (
	"sort"
	"time"

	"PromptHarvester/internal/domain"
)

const (
	defaultHalfLife     = 30 * 24 * time.Hour
	defaultRecencyFloor = 3.0
)

// Config tunes the local scorer.
type Config struct {
	Weights      Weights
	HalfLife     time.Duration
	RecencyFloor float64
}

// Scorer computes deterministic, explainable quality scores without network calls.
type Scorer struct {
	weights  Weights
	halfLife time.Duration
	floor    float64
	now      func() time.Time
}

// NewScorer validates cfg and applies defaults. A nil clock uses time.Now.
func NewScorer(cfg Config, now func() time.Time) (*Scorer, error) {
	if cfg.Weights.Local == nil && cfg.Weights.AI == nil {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = defaultHalfLife
	}
	if cfg.RecencyFloor <= 0 {
		cfg.RecencyFloor = defaultRecencyFloor
	}
	if cfg.RecencyFloor > domain.MaxScore {
		return nil, domain.NewValidationError("recencyFloor", "%.2f exceeds 10", cfg.RecencyFloor)
	}
	if now == nil {
		now = time.Now
	}
	return &Scorer{
		weights:  Weights{Local: cloneWeights(cfg.Weights.Local), AI: cloneWeights(cfg.Weights.AI)},
		halfLife: cfg.HalfLife,
		floor:    cfg.RecencyFloor,
		now:      now,
	}, nil
}

// Score returns the local assessment. AIScore is never set here.
func (s *Scorer) Score(item domain.RawItem) domain.QualityAssessment {
	f := newTextFeatures(item.Text)
	breakdown := map[domain.Component]float64{
		domain.ComponentHeuristic: heuristicScore(f),
		domain.ComponentCommunity: communityScore(item.Engagement),
		domain.ComponentIndicator: indicatorScore(f),
		domain.ComponentRecency:   s.recencyScore(item.CreatedAt),
	}

	local := combine(s.weights.Local, breakdown)
	return domain.QualityAssessment{
		LocalScore:    local,
		CombinedScore: local,
		Breakdown:     breakdown,
		Weights:       cloneWeights(s.weights.Local),
	}
}

// WithAI attaches an analyzer score and re-derives the combined score with
// the AI weight set. The input assessment is left untouched.
func (s *Scorer) WithAI(assessment domain.QualityAssessment, aiScore float64) domain.QualityAssessment {
	out := assessment.Clone()
	ai := domain.Clamp(aiScore)
	out.AIScore = &ai
	out.Breakdown[domain.ComponentAI] = ai
	out.Weights = cloneWeights(s.weights.AI)
	out.CombinedScore = combine(s.weights.AI, out.Breakdown)
	return out
}

func (s *Scorer) recencyScore(created time.Time) float64 {
	age := s.now().Sub(created)
	if age < 0 {
		age = 0
	}
	decay := (domain.MaxScore - s.floor) * float64(age) / float64(s.halfLife)
	score := domain.MaxScore - decay
	if score < s.floor {
		return s.floor
	}
	return score
}

// Scored pairs an item with its assessment.
type Scored struct {
	Item       domain.RawItem
	Assessment domain.QualityAssessment
}

// Rank sorts descending by combined score, newer items first on ties, and
// drops items below minScore. The input slice is not modified.
func Rank(items []Scored, minScore float64) []Scored {
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		if it.Assessment.CombinedScore >= minScore {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Assessment.CombinedScore != b.Assessment.CombinedScore {
			return a.Assessment.CombinedScore > b.Assessment.CombinedScore
		}
		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}
		return a.Item.Key() < b.Item.Key()
	})
	return out
}
