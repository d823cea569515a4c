package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/ports"
)

const (
	defaultTimeout  = 15 * time.Second
	maxPromptLength = 4000
)

// Config tunes the analyzer's isolation from the external model.
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Analyzer asks an external language model for a richer quality verdict.
// Every failure surfaces as domain.ErrAnalysisUnavailable so the caller
// can fall back to local scoring.
type Analyzer struct {
	model   ports.LanguageModel
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAnalyzer wraps model. A nil model yields an analyzer that is always unavailable.
func NewAnalyzer(model ports.LanguageModel, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{
		model:   model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Available reports whether a backend is configured.
func (a *Analyzer) Available() bool {
	return a != nil && a.model != nil
}

type generation struct {
	text string
	err  error
}

// Analyze returns the model's assessment of item within the configured
// timeout. The call returns on deadline even if the backend ignores ctx.
func (a *Analyzer) Analyze(ctx context.Context, item domain.RawItem) (domain.AIAssessment, error) {
	if !a.Available() {
		return domain.AIAssessment{}, unavailable(fmt.Errorf("no language model configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return domain.AIAssessment{}, unavailable(fmt.Errorf("rate limit: %w", err))
	}

	done := make(chan generation, 1)
	go func() {
		text, err := a.model.Generate(ctx, buildAssessmentPrompt(item))
		done <- generation{text: text, err: err}
	}()

	var reply generation
	select {
	case <-ctx.Done():
		return domain.AIAssessment{}, unavailable(fmt.Errorf("%s: %w", a.model.Name(), ctx.Err()))
	case reply = <-done:
	}
	if reply.err != nil {
		return domain.AIAssessment{}, unavailable(reply.err)
	}

	assessment, sanitized, err := parseAssessment(reply.text)
	if err != nil {
		return domain.AIAssessment{}, unavailable(err)
	}
	if sanitized {
		a.logger.Warn("sanitized malformed model reply", "model", a.model.Name(), "item", item.Key())
	}
	return assessment, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrAnalysisUnavailable, err)
}

// clip cuts s to at most limit bytes without splitting a rune.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func buildAssessmentPrompt(item domain.RawItem) string {
	text := clip(item.Text, maxPromptLength)

	var b strings.Builder
	b.WriteString("You evaluate prompts written for generative ")
	b.WriteString(targetLabel(item.ModelTypeHint))
	b.WriteString(" models.\n\n")
	b.WriteString("CRITERIA:\n")
	b.WriteString("- Concrete subject, setting and mood\n")
	b.WriteString("- Technical direction (camera, lighting, motion, tempo, instrumentation)\n")
	b.WriteString("- Explicit duration or resolution where relevant\n")
	b.WriteString("- Absence of vague filler words\n\n")
	fmt.Fprintf(&b, "PROMPT (source: %s, upvotes: %d, comments: %d, views: %d):\n%s\n\n",
		item.Source, item.Engagement.Upvotes, item.Engagement.Comments, item.Engagement.Views, text)
	b.WriteString(`Respond with JSON only:
{
  "score": <number 0-10>,
  "genre": "<short genre label>",
  "reasoning": "<one or two sentences>",
  "strengths": ["..."],
  "weaknesses": ["..."]
}`)
	return b.String()
}

func targetLabel(model domain.ModelType) string {
	switch model {
	case domain.ModelMusic:
		return "music"
	case domain.ModelVideoA, domain.ModelVideoB:
		return "video"
	default:
		return "media"
	}
}
