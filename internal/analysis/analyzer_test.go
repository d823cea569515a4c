package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"PromptHarvester/internal/domain"
)

type stubModel struct {
	reply string
	err   error
	delay time.Duration
	calls int
}

func (s *stubModel) Name() string { return "stub" }

func (s *stubModel) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.reply, s.err
}

var sample = domain.RawItem{
	Source:    domain.SourceForum,
	Text:      "An astronaut drifting past a neon space station, slow orbit shot, 4K",
	CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
}

func fastConfig() Config {
	return Config{Timeout: time.Second, RequestsPerSecond: 1000, Burst: 10}
}

func TestAnalyzeParsesWrappedReply(t *testing.T) {
	t.Parallel()

	model := &stubModel{reply: "Here you go:\n```json\n{\"score\": 8.5, \"genre\": \" Sci-Fi \", \"reasoning\": \"clear camera direction\", \"strengths\": [\"camera\"]}\n```"}
	a := NewAnalyzer(model, fastConfig(), nil)

	got, err := a.Analyze(context.Background(), sample)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.Score != 8.5 || got.Genre != "sci-fi" || got.Reasoning != "clear camera direction" {
		t.Fatalf("unexpected assessment %+v", got)
	}
	if len(got.Strengths) != 1 {
		t.Fatalf("expected strengths to be kept, got %v", got.Strengths)
	}
}

func TestAnalyzeUnavailable(t *testing.T) {
	t.Parallel()

	cases := map[string]*Analyzer{
		"no model":      NewAnalyzer(nil, fastConfig(), nil),
		"backend error": NewAnalyzer(&stubModel{err: errors.New("503")}, fastConfig(), nil),
		"no json":       NewAnalyzer(&stubModel{reply: "I cannot rate this"}, fastConfig(), nil),
		"no score":      NewAnalyzer(&stubModel{reply: `{"genre":"x"}`}, fastConfig(), nil),
	}
	for name, a := range cases {
		_, err := a.Analyze(context.Background(), sample)
		if !errors.Is(err, domain.ErrAnalysisUnavailable) {
			t.Fatalf("%s: expected ErrAnalysisUnavailable, got %v", name, err)
		}
	}
}

func TestAnalyzeBoundsSlowBackend(t *testing.T) {
	t.Parallel()

	model := &stubModel{reply: `{"score": 9}`, delay: 2 * time.Second}
	a := NewAnalyzer(model, Config{Timeout: 50 * time.Millisecond, RequestsPerSecond: 100}, nil)

	start := time.Now()
	_, err := a.Analyze(context.Background(), sample)
	if !errors.Is(err, domain.ErrAnalysisUnavailable) {
		t.Fatalf("expected unavailable on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("analyzer blocked for %v", elapsed)
	}
}

func TestParseAssessmentSanitizesAndClamps(t *testing.T) {
	t.Parallel()

	reply := "{\n  \"score\": 14,\n  \"reasoning\": \"uses \"golden hour\" lighting\",\n  \"genre\": \"nature\"\n}"
	got, sanitized, err := parseAssessment(reply)
	if err != nil {
		t.Fatalf("parseAssessment error: %v", err)
	}
	if !sanitized {
		t.Fatalf("expected the reply to need sanitizing")
	}
	if got.Score != 10 {
		t.Fatalf("score should be clamped to 10, got %.2f", got.Score)
	}
	if !strings.Contains(got.Reasoning, `"golden hour"`) {
		t.Fatalf("unexpected reasoning %q", got.Reasoning)
	}
}

func TestBuildAssessmentPromptMentionsTarget(t *testing.T) {
	t.Parallel()

	item := sample
	item.ModelTypeHint = domain.ModelMusic
	prompt := buildAssessmentPrompt(item)
	if !strings.Contains(prompt, "generative music models") || !strings.Contains(prompt, item.Text) {
		t.Fatalf("unexpected prompt:\n%s", prompt)
	}
}

func TestBuildAssessmentPromptClipsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	item := sample
	item.Text = "a" + strings.Repeat("é", maxPromptLength)
	prompt := buildAssessmentPrompt(item)
	if !utf8.ValidString(prompt) {
		t.Fatalf("prompt is not valid UTF-8")
	}

	clipped := clip(item.Text, maxPromptLength)
	if len(clipped) > maxPromptLength || len(clipped) != maxPromptLength-1 {
		t.Fatalf("expected %d bytes, got %d", maxPromptLength-1, len(clipped))
	}
	if got := clip("short", maxPromptLength); got != "short" {
		t.Fatalf("short text changed: %q", got)
	}
}
