package analysis

import (
	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/scoring"
)

const defaultMinOccurrences = 2

var styleTerms = []string{
	"cinematic", "anime", "photorealistic", "noir", "vaporwave", "lofi", "synthwave", "watercolor",
	"documentary", "vintage", "retro", "surreal", "minimalist", "cyberpunk", "fantasy", "steampunk",
	"claymation", "ambient", "orchestral", "jazz",
}

type patternAcc struct {
	pattern domain.Pattern
	sum     float64
}

// ExtractPatterns finds keyword, structure and style features shared by at
// least minOccurrences items of the same model type. Output order is
// deterministic: most frequent first, then higher quality, then type and value.
func ExtractPatterns(items []scoring.Scored, minOccurrences int) []domain.Pattern {
	if minOccurrences <= 0 {
		minOccurrences = defaultMinOccurrences
	}

	acc := map[domain.PatternKey]*patternAcc{}
	add := func(kind domain.PatternType, value string, model domain.ModelType, quality float64) {
		key := domain.PatternKey{Type: kind, Value: value, ModelType: model}
		entry, ok := acc[key]
		if !ok {
			entry = &patternAcc{pattern: domain.Pattern{Type: kind, Value: value, ModelType: model}}
			acc[key] = entry
		}
		entry.pattern.OccurrenceCount++
		entry.sum += quality
	}

	for _, it := range items {
		model := it.Item.ModelTypeHint
		if model == "" {
			model = domain.ModelUnknown
		}
		quality := it.Assessment.CombinedScore
		f := scoring.Extract(it.Item.Text)

		for _, term := range unique(f.Terms()) {
			add(domain.PatternKeyword, term, model, quality)
		}
		for _, shape := range structureOf(f) {
			add(domain.PatternStructure, shape, model, quality)
		}
		for _, style := range stylesOf(it.Item.Text) {
			add(domain.PatternStyle, style, model, quality)
		}
	}

	out := make([]domain.Pattern, 0, len(acc))
	for _, entry := range acc {
		if entry.pattern.OccurrenceCount < minOccurrences {
			continue
		}
		p := entry.pattern
		p.AverageQuality = entry.sum / float64(p.OccurrenceCount)
		out = append(out, p)
	}

	domain.SortPatterns(out)
	return out
}

func structureOf(f scoring.Features) []string {
	var shapes []string
	if f.HasSubject && f.HasSetting && f.HasMood {
		shapes = append(shapes, "subject+setting+mood")
	}
	if f.HasDuration {
		shapes = append(shapes, "explicit-duration")
	}
	if f.HasResolution {
		shapes = append(shapes, "explicit-resolution")
	}
	switch {
	case f.Words < 15:
		shapes = append(shapes, "length:short")
	case f.Words <= 60:
		shapes = append(shapes, "length:medium")
	default:
		shapes = append(shapes, "length:long")
	}
	return shapes
}

func stylesOf(text string) []string {
	words := map[string]struct{}{}
	for _, tok := range domain.Tokenize(text) {
		words[tok] = struct{}{}
	}
	var out []string
	for _, term := range styleTerms {
		if _, ok := words[term]; ok {
			out = append(out, term)
		}
	}
	return out
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
