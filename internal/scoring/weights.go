package scoring

import (
	"math"

	"PromptHarvester/internal/domain"
)

// Weights holds the two weight sets used to combine component scores.
type Weights struct {
	Local map[domain.Component]float64
	AI    map[domain.Component]float64
}

// DefaultWeights returns the standard combination:
// local 0.4 heuristic, 0.3 community, 0.2 indicator, 0.1 recency;
// with AI 0.4 ai, 0.3 community, 0.2 heuristic, 0.1 recency.
func DefaultWeights() Weights {
	return Weights{
		Local: map[domain.Component]float64{
			domain.ComponentHeuristic: 0.4,
			domain.ComponentCommunity: 0.3,
			domain.ComponentIndicator: 0.2,
			domain.ComponentRecency:   0.1,
		},
		AI: map[domain.Component]float64{
			domain.ComponentAI:        0.4,
			domain.ComponentCommunity: 0.3,
			domain.ComponentHeuristic: 0.2,
			domain.ComponentRecency:   0.1,
		},
	}
}

// Validate checks that each weight set is non-negative, names known
// components and sums to 1.
func (w Weights) Validate() error {
	if err := validateSet("weights.local", w.Local, false); err != nil {
		return err
	}
	return validateSet("weights.ai", w.AI, true)
}

func validateSet(field string, set map[domain.Component]float64, allowAI bool) error {
	if len(set) == 0 {
		return domain.NewValidationError(field, "no weights configured")
	}
	var sum float64
	for name, v := range set {
		switch name {
		case domain.ComponentHeuristic, domain.ComponentCommunity, domain.ComponentIndicator, domain.ComponentRecency:
		case domain.ComponentAI:
			if !allowAI {
				return domain.NewValidationError(field, "ai weight is only allowed in the ai set")
			}
		default:
			return domain.NewValidationError(field, "unknown component %q", name)
		}
		if v < 0 || math.IsNaN(v) {
			return domain.NewValidationError(field, "weight %s must be non-negative", name)
		}
		sum += v
	}
	if math.Abs(sum-1) > 0.01 {
		return domain.NewValidationError(field, "weights sum to %.3f, want 1", sum)
	}
	if allowAI {
		if _, ok := set[domain.ComponentAI]; !ok {
			return domain.NewValidationError(field, "ai set must weight the ai component")
		}
	}
	return nil
}

// componentOrder fixes the summation order so repeated scoring is bit-identical.
var componentOrder = []domain.Component{
	domain.ComponentAI,
	domain.ComponentHeuristic,
	domain.ComponentCommunity,
	domain.ComponentIndicator,
	domain.ComponentRecency,
}

func combine(weights map[domain.Component]float64, breakdown map[domain.Component]float64) float64 {
	var sum float64
	for _, name := range componentOrder {
		if w, ok := weights[name]; ok {
			sum += w * breakdown[name]
		}
	}
	return domain.Clamp(sum)
}

func cloneWeights(in map[domain.Component]float64) map[domain.Component]float64 {
	out := make(map[domain.Component]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
