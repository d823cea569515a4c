package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceKind enumerates the families of external sources.
type SourceKind string

const (
	SourceForum SourceKind = "forum"
	SourceVideo SourceKind = "video"
	SourceWeb   SourceKind = "web"
)

// Valid reports whether the kind belongs to the closed set of sources.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceForum, SourceVideo, SourceWeb:
		return true
	default:
		return false
	}
}

// ModelType is the generator a prompt most likely targets.
type ModelType string

const (
	ModelMusic   ModelType = "music"
	ModelVideoA  ModelType = "video-a"
	ModelVideoB  ModelType = "video-b"
	ModelUnknown ModelType = "unknown"
)

// ModelTypes lists every known model type in a stable order.
var ModelTypes = []ModelType{ModelMusic, ModelVideoA, ModelVideoB, ModelUnknown}

// Engagement holds community signals reported by the source.
type Engagement struct {
	Upvotes  int64
	Comments int64
	Views    int64
}

// Empty reports whether the source exposed no engagement data at all.
func (e Engagement) Empty() bool {
	return e.Upvotes == 0 && e.Comments == 0 && e.Views == 0
}

// Weight is a rough magnitude used to pick between duplicates.
func (e Engagement) Weight() int64 {
	return e.Upvotes + 2*e.Comments + e.Views/100
}

// RawItem is one harvested candidate prompt. It is never mutated after a collector returns it.
type RawItem struct {
	Source        SourceKind
	SourceName    string
	ExternalID    string
	URL           string
	Text          string
	Engagement    Engagement
	CreatedAt     time.Time
	ModelTypeHint ModelType
}

// Key returns the content-derived identifier used for deduplication.
func (r RawItem) Key() string {
	return ContentKey(r.Text)
}

// Validate rejects items that cannot be scored or persisted.
func (r RawItem) Validate() error {
	if !r.Source.Valid() {
		return NewValidationError("source", "unknown source kind %q", r.Source)
	}
	if strings.TrimSpace(r.Text) == "" {
		return NewValidationError("text", "empty prompt text")
	}
	if r.Engagement.Upvotes < 0 || r.Engagement.Comments < 0 || r.Engagement.Views < 0 {
		return NewValidationError("engagement", "negative counters")
	}
	if r.CreatedAt.IsZero() {
		return NewValidationError("createdAt", "missing timestamp")
	}
	return nil
}

// NormalizeText lowercases and collapses whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentKey hashes the normalized text. Two items with the same wording
// share a key regardless of source or punctuation spacing.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:16])
}

var (
	videoBTerms = []string{"runway", "gen-3", "gen-4", "gen3", "gen4"}
	videoATerms = []string{"veo", "veo2", "veo3", "veo 3"}
	musicTerms  = []string{"music", "song", "melody", "lyrics", "beat", "bpm", "chorus", "verse", "suno", "udio", "instrumental"}
	videoTerms  = []string{"video", "footage", "shot", "clip", "scene", "camera", "cinematic", "frame"}
)

// InferModelType guesses the target generator from keywords in the text.
// Explicit generator names win over generic vocabulary.
func InferModelType(text string) ModelType {
	words := tokenSet(text)
	lower := strings.ToLower(text)
	switch {
	case containsAny(words, lower, videoBTerms):
		return ModelVideoB
	case containsAny(words, lower, videoATerms):
		return ModelVideoA
	case containsAny(words, lower, musicTerms):
		return ModelMusic
	case containsAny(words, lower, videoTerms):
		return ModelVideoA
	default:
		return ModelUnknown
	}
}

func containsAny(words map[string]struct{}, lower string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(term, " ") || strings.Contains(term, "-") {
			if strings.Contains(lower, term) {
				return true
			}
			continue
		}
		if _, ok := words[term]; ok {
			return true
		}
	}
	return false
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// Tokenize splits text into lowercase alphanumeric words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r >= 0x80)
	})
}
