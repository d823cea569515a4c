package domain

import "sort"

// PatternType classifies an extracted feature.
type PatternType string

const (
	PatternKeyword   PatternType = "keyword"
	PatternStructure PatternType = "structure"
	PatternStyle     PatternType = "style"
)

// Pattern is a feature that recurs across many scored items.
type Pattern struct {
	Type            PatternType
	Value           string
	OccurrenceCount int
	ModelType       ModelType
	AverageQuality  float64
}

// PatternKey identifies a pattern in the store.
type PatternKey struct {
	Type      PatternType
	Value     string
	ModelType ModelType
}

// Key returns the identity of the pattern.
func (p Pattern) Key() PatternKey {
	return PatternKey{Type: p.Type, Value: p.Value, ModelType: p.ModelType}
}

// Merge folds another observation of the same pattern into p, keeping a
// count-weighted average quality.
func (p Pattern) Merge(other Pattern) Pattern {
	total := p.OccurrenceCount + other.OccurrenceCount
	if total <= 0 {
		return p
	}
	p.AverageQuality = (p.AverageQuality*float64(p.OccurrenceCount) + other.AverageQuality*float64(other.OccurrenceCount)) / float64(total)
	p.OccurrenceCount = total
	return p
}

// SortPatterns orders patterns most frequent first, then by higher quality,
// then by type, value and model type.
func SortPatterns(patterns []Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if a.AverageQuality != b.AverageQuality {
			return a.AverageQuality > b.AverageQuality
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.ModelType < b.ModelType
	})
}
