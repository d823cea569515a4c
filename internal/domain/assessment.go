package domain

import "math"

// Component names a sub-score of the combined quality score.
type Component string

const (
	ComponentHeuristic Component = "heuristic"
	ComponentCommunity Component = "community"
	ComponentIndicator Component = "indicator"
	ComponentRecency   Component = "recency"
	ComponentAI        Component = "ai"
)

// MaxScore is the upper bound of every score in the system.
const MaxScore = 10.0

// QualityAssessment is the scoring output attached to a RawItem.
// CombinedScore is always set and within [0, MaxScore]; AIScore is nil
// unless the analyzer succeeded for the item.
type QualityAssessment struct {
	LocalScore    float64
	AIScore       *float64
	CombinedScore float64
	Breakdown     map[Component]float64
	Weights       map[Component]float64
}

// HasAI reports whether an analyzer score is attached.
func (q QualityAssessment) HasAI() bool {
	return q.AIScore != nil
}

// Validate checks the score bounds and that the breakdown reproduces the combined score.
func (q QualityAssessment) Validate() error {
	if !inRange(q.CombinedScore) {
		return NewValidationError("combinedScore", "%.3f outside [0,10]", q.CombinedScore)
	}
	if !inRange(q.LocalScore) {
		return NewValidationError("localScore", "%.3f outside [0,10]", q.LocalScore)
	}
	if q.AIScore != nil && !inRange(*q.AIScore) {
		return NewValidationError("aiScore", "%.3f outside [0,10]", *q.AIScore)
	}
	if len(q.Weights) == 0 {
		return nil
	}
	var sum float64
	for name, w := range q.Weights {
		v, ok := q.Breakdown[name]
		if !ok {
			return NewValidationError("breakdown", "missing component %s", name)
		}
		sum += w * v
	}
	if math.Abs(Clamp(sum)-q.CombinedScore) > 1e-6 {
		return NewValidationError("breakdown", "weighted sum %.4f does not match combined %.4f", sum, q.CombinedScore)
	}
	return nil
}

// Clone returns a deep copy so stored records never share maps with callers.
func (q QualityAssessment) Clone() QualityAssessment {
	out := q
	if q.AIScore != nil {
		v := *q.AIScore
		out.AIScore = &v
	}
	out.Breakdown = make(map[Component]float64, len(q.Breakdown))
	for k, v := range q.Breakdown {
		out.Breakdown[k] = v
	}
	out.Weights = make(map[Component]float64, len(q.Weights))
	for k, v := range q.Weights {
		out.Weights[k] = v
	}
	return out
}

// AIAssessment is the analyzer's verdict for one item.
type AIAssessment struct {
	Score      float64
	Genre      string
	Reasoning  string
	Strengths  []string
	Weaknesses []string
}

// Clamp bounds v to [0, MaxScore]; NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > MaxScore:
		return MaxScore
	default:
		return v
	}
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= MaxScore
}
