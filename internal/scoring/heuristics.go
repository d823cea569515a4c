package scoring

import (
	"math"
	"regexp"
	"strings"

	"PromptHarvester/internal/domain"
)

var (
	cameraTerms = []string{
		"shot", "angle", "dolly", "pan", "panning", "tracking", "close-up", "closeup", "wide",
		"aerial", "drone", "zoom", "handheld", "pov", "crane", "tilt", "lens", "macro", "bokeh",
	}
	lightingTerms = []string{
		"lighting", "lit", "backlit", "neon", "shadows", "volumetric", "golden hour", "soft light",
		"rim light", "sunset", "sunrise", "twilight", "candlelight", "overcast",
	}
	motionTerms = []string{
		"slow motion", "slow-motion", "timelapse", "time-lapse", "motion", "orbit", "orbiting",
		"flowing", "drifting", "spinning", "running", "walks", "walking", "flying",
	}
	audioTerms = []string{
		"bpm", "tempo", "melody", "vocals", "instrumental", "synth", "guitar", "piano", "drums",
		"bassline", "chorus", "verse", "harmony", "reverb",
	}

	subjectTerms = []string{
		"man", "woman", "person", "child", "girl", "boy", "astronaut", "robot", "cat", "dog",
		"bird", "car", "character", "dancer", "singer", "band", "warrior", "figure", "crowd",
	}
	settingTerms = []string{
		"forest", "city", "street", "beach", "desert", "dunes", "room", "studio", "space",
		"ocean", "mountain", "mountains", "village", "kitchen", "office", "rooftop", "alley",
		"jungle", "field", "lake", "river", "fjords", "stage", "club",
	}
	moodTerms = []string{
		"mood", "atmosphere", "dreamy", "dark", "moody", "joyful", "melancholic", "serene",
		"epic", "tense", "calm", "upbeat", "nostalgic", "eerie", "energetic", "whimsical",
		"somber", "hopeful", "mysterious", "romantic",
	}
	vagueTerms = []string{
		"nice", "good", "cool", "something", "stuff", "awesome", "amazing", "whatever",
		"random", "thing", "things", "etc",
	}
	productionTerms = []string{
		"4k", "8k", "hdr", "cinematic", "photorealistic", "film grain", "anamorphic", "35mm",
		"high detail", "ultra detailed", "professional", "studio quality", "dolby", "mastered",
		"imax", "color graded",
	}

	durationExpr   = regexp.MustCompile(`\b\d+(\.\d+)?\s?(s|sec|secs|seconds|min|mins|minutes)\b`)
	resolutionExpr = regexp.MustCompile(`\b(4k|8k|1080p|720p|2160p|\d{3,4}x\d{3,4}|16:9|9:16|21:9|\d{2,3}\s?fps)\b`)
)

const (
	heuristicBase       = 3.0
	technicalTermBonus  = 0.75
	technicalTermCap    = 3.0
	specTermBonus       = 0.75
	structureBonus      = 0.5
	vaguePenalty        = 0.5
	vaguePenaltyCap     = 2.0
	minWords            = 8
	longWords           = 120
	maxWords            = 200
	indicatorBase       = 5.0
	indicatorTermBonus  = 1.0
	communityNeutral    = 5.0
	communitySaturation = 1000.0
)

// textFeatures is the lexical view of a prompt used by the heuristics.
type textFeatures struct {
	lower string
	words map[string]struct{}
	count int
}

func newTextFeatures(text string) textFeatures {
	tokens := domain.Tokenize(text)
	words := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		words[tok] = struct{}{}
	}
	return textFeatures{lower: domain.NormalizeText(text), words: words, count: len(strings.Fields(text))}
}

func (f textFeatures) has(term string) bool {
	if strings.ContainsAny(term, " -") {
		return strings.Contains(f.lower, term)
	}
	_, ok := f.words[term]
	return ok
}

func (f textFeatures) hits(terms []string) []string {
	var out []string
	for _, term := range terms {
		if f.has(term) {
			out = append(out, term)
		}
	}
	return out
}

// heuristicScore rewards concrete technical vocabulary and structural
// completeness, and penalizes length extremes and vague wording.
func heuristicScore(f textFeatures) float64 {
	score := heuristicBase

	technical := len(f.hits(cameraTerms)) + len(f.hits(lightingTerms)) + len(f.hits(motionTerms)) + len(f.hits(audioTerms))
	score += math.Min(float64(technical)*technicalTermBonus, technicalTermCap)

	if durationExpr.MatchString(f.lower) {
		score += specTermBonus
	}
	if resolutionExpr.MatchString(f.lower) {
		score += specTermBonus
	}

	parts := 0
	for _, set := range [][]string{subjectTerms, settingTerms, moodTerms} {
		if len(f.hits(set)) > 0 {
			parts++
		}
	}
	score += float64(parts) * structureBonus
	if parts == 3 {
		score += structureBonus
	}

	switch {
	case f.count < minWords:
		score -= 2
	case f.count > maxWords:
		score -= 1.5
	case f.count > longWords:
		score -= 0.5
	}

	score -= math.Min(float64(len(f.hits(vagueTerms)))*vaguePenalty, vaguePenaltyCap)

	return domain.Clamp(score)
}

// indicatorScore starts neutral and adds a point per production-quality term.
func indicatorScore(f textFeatures) float64 {
	return domain.Clamp(indicatorBase + float64(len(f.hits(productionTerms)))*indicatorTermBonus)
}

// communityScore saturates logarithmically: weighted engagement of 1000
// maps to 10. Items without any engagement data sit at the neutral midpoint.
func communityScore(e domain.Engagement) float64 {
	if e.Empty() {
		return communityNeutral
	}
	weighted := float64(e.Upvotes) + 2*float64(e.Comments) + float64(e.Views)/100
	return domain.Clamp(domain.MaxScore * math.Log10(1+weighted) / math.Log10(1+communitySaturation))
}
