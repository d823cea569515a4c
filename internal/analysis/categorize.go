package analysis

import (
	"math"
	"strings"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/scoring"
)

// Category is the genre and per-model fit of a prompt.
type Category struct {
	Genre            string
	ModelSuitability map[domain.ModelType]float64
}

type genreRule struct {
	name  string
	terms []string
}

// Rules are checked in order; the one with most hits wins, earlier rules win ties.
var genreRules = []genreRule{
	{"sci-fi", []string{"astronaut", "spaceship", "robot", "cyberpunk", "alien", "futuristic", "space", "neon"}},
	{"fantasy", []string{"dragon", "castle", "wizard", "magic", "elf", "fantasy", "enchanted"}},
	{"horror", []string{"horror", "creepy", "eerie", "haunted", "ghost", "zombie"}},
	{"nature", []string{"forest", "ocean", "mountain", "mountains", "wildlife", "river", "fjords", "waves", "jungle"}},
	{"urban", []string{"city", "street", "alley", "rooftop", "traffic", "skyline", "subway"}},
	{"action", []string{"chase", "explosion", "fight", "battle", "racing", "warrior"}},
	{"electronic", []string{"synthwave", "techno", "edm", "house", "synth", "dubstep"}},
	{"ambient", []string{"ambient", "lofi", "chill", "drone", "meditative", "pads"}},
	{"hip-hop", []string{"hip-hop", "rap", "trap", "boom-bap", "808"}},
	{"orchestral", []string{"orchestral", "strings", "symphony", "choir", "cinematic score"}},
}

// Categorize assigns a genre and estimates how well the prompt suits each
// model type. Suitability values are in [0,1]. Pure and deterministic.
func Categorize(item domain.RawItem) Category {
	lower := domain.NormalizeText(item.Text)
	words := map[string]struct{}{}
	for _, tok := range domain.Tokenize(item.Text) {
		words[tok] = struct{}{}
	}

	genre, best := "general", 0
	for _, rule := range genreRules {
		hits := 0
		for _, term := range rule.terms {
			if strings.Contains(term, " ") {
				if strings.Contains(lower, term) {
					hits++
				}
				continue
			}
			if _, ok := words[term]; ok {
				hits++
			}
		}
		if hits > best {
			genre, best = rule.name, hits
		}
	}

	return Category{Genre: genre, ModelSuitability: suitability(item)}
}

func suitability(item domain.RawItem) map[domain.ModelType]float64 {
	f := scoring.Extract(item.Text)
	audio := float64(len(f.Audio))
	visual := float64(f.Visual())
	if f.HasSubject || f.HasSetting {
		visual++
	}

	hint := domain.InferModelType(item.Text)
	if hint == domain.ModelMusic {
		audio++
	}

	var music, video float64
	if total := audio + visual; total > 0 {
		music = audio / total
		video = visual / total
	}

	videoA, videoB := video, video
	switch hint {
	case domain.ModelVideoA:
		videoB *= 0.8
	case domain.ModelVideoB:
		videoA *= 0.8
	}

	unknown := 1 - math.Max(music, math.Max(videoA, videoB))
	return map[domain.ModelType]float64{
		domain.ModelMusic:   round2(music),
		domain.ModelVideoA:  round2(videoA),
		domain.ModelVideoB:  round2(videoB),
		domain.ModelUnknown: round2(unknown),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
