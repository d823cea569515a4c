package stages

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"PromptHarvester/internal/analysis"
	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/orchestrator"
	"PromptHarvester/internal/ports"
)

// Config declares one stage of the generation graph.
type Config struct {
	ID        string
	Kind      string
	DependsOn []string
	Endpoint  string
	APIKey    string
	Model     string
	CostUSD   float64
	Timeout   time.Duration
}

// Deps are the shared collaborators stages may need.
type Deps struct {
	HTTPClient *http.Client
	Writer     ports.LanguageModel
}

// Build turns declarations into a validated graph. Each kind maps to exactly
// one implementation.
func Build(cfgs []Config, deps Deps) (*orchestrator.Graph, error) {
	nodes := make([]orchestrator.Node, 0, len(cfgs))
	for _, cfg := range cfgs {
		stage, err := New(cfg, deps)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, orchestrator.Node{Stage: stage, DependsOn: cfg.DependsOn})
	}
	return orchestrator.NewGraph(nodes...)
}

// New builds a single stage.
func New(cfg Config, deps Deps) (orchestrator.Stage, error) {
	kind := orchestrator.StageKind(cfg.Kind)
	if cfg.ID == "" {
		return nil, domain.NewValidationError("stages.id", "empty stage id")
	}
	if kind != orchestrator.KindScript && cfg.Endpoint == "" {
		return nil, domain.NewValidationError("stages."+cfg.ID+".endpoint", "endpoint is required for %s stages", cfg.Kind)
	}

	base := stageBase{id: cfg.ID, model: cfg.Model}
	switch kind {
	case orchestrator.KindScript:
		if deps.Writer == nil {
			return nil, domain.NewValidationError("stages."+cfg.ID, "script stage needs a language model")
		}
		return &ScriptStage{stageBase: base, writer: deps.Writer, costPerCall: cfg.CostUSD}, nil
	case orchestrator.KindMusic:
		base.client = newClient(cfg.Endpoint, cfg.APIKey, deps.HTTPClient, cfg.Timeout)
		return &MusicStage{stageBase: base}, nil
	case orchestrator.KindVideo:
		base.client = newClient(cfg.Endpoint, cfg.APIKey, deps.HTTPClient, cfg.Timeout)
		return &VideoStage{stageBase: base}, nil
	case orchestrator.KindAssembly:
		base.client = newClient(cfg.Endpoint, cfg.APIKey, deps.HTTPClient, cfg.Timeout)
		return &AssemblyStage{stageBase: base}, nil
	default:
		return nil, domain.NewValidationError("stages."+cfg.ID+".kind", "unknown stage kind %q", cfg.Kind)
	}
}

type stageBase struct {
	id     string
	model  string
	client *client
}

func (s stageBase) ID() string { return s.id }

// ScriptStage asks a language model for a shot-by-shot script of the seed prompt.
type ScriptStage struct {
	stageBase
	writer      ports.LanguageModel
	costPerCall float64
}

func (s *ScriptStage) Kind() orchestrator.StageKind { return orchestrator.KindScript }

func (s *ScriptStage) Execute(ctx context.Context, in orchestrator.StageInput) (orchestrator.StageOutput, error) {
	reply, err := s.writer.Generate(ctx, scriptPrompt(in.Seed))
	if err != nil {
		return orchestrator.StageOutput{}, fmt.Errorf("%w: %s: %w", domain.ErrTransientStage, s.writer.Name(), err)
	}
	script := strings.TrimSpace(reply)
	if script == "" {
		return orchestrator.StageOutput{}, fmt.Errorf("%w: empty script", domain.ErrTransientStage)
	}
	return orchestrator.StageOutput{
		Artifact: script,
		CostUSD:  s.costPerCall,
		Metadata: map[string]string{"writer": s.writer.Name()},
	}, nil
}

func scriptPrompt(seed domain.PromptRecord) string {
	var b strings.Builder
	b.WriteString("Rewrite the following prompt as a numbered shot list for a 30 second clip. ")
	b.WriteString("Keep camera, lighting and mood details. Reply with the shot list only.\n\n")
	b.WriteString(seed.Item.Text)
	return b.String()
}

// MusicStage requests a soundtrack matching the seed's genre.
type MusicStage struct {
	stageBase
}

func (s *MusicStage) Kind() orchestrator.StageKind { return orchestrator.KindMusic }

func (s *MusicStage) Execute(ctx context.Context, in orchestrator.StageInput) (orchestrator.StageOutput, error) {
	category := analysis.Categorize(in.Seed.Item)
	payload := map[string]any{
		"prompt":           in.Seed.Item.Text,
		"genre":            category.Genre,
		"duration_seconds": 30,
		"run_id":           in.RunID,
	}
	if s.model != "" {
		payload["model"] = s.model
	}
	if script, ok := upstreamOf(in, orchestrator.KindScript); ok {
		payload["script"] = script
	}

	var resp generation
	if err := s.client.post(ctx, "/music", payload, &resp); err != nil {
		return orchestrator.StageOutput{}, err
	}
	return resp.output()
}

// VideoStage renders the clip with the generator suited to the seed.
type VideoStage struct {
	stageBase
}

func (s *VideoStage) Kind() orchestrator.StageKind { return orchestrator.KindVideo }

func (s *VideoStage) Execute(ctx context.Context, in orchestrator.StageInput) (orchestrator.StageOutput, error) {
	payload := map[string]any{
		"prompt": in.Seed.Item.Text,
		"model":  s.videoModel(in.Seed.ModelType()),
		"run_id": in.RunID,
	}
	if script, ok := upstreamOf(in, orchestrator.KindScript); ok {
		payload["script"] = script
	}

	var resp generation
	if err := s.client.post(ctx, "/video", payload, &resp); err != nil {
		return orchestrator.StageOutput{}, err
	}
	return resp.output()
}

func (s *VideoStage) videoModel(mt domain.ModelType) string {
	if s.model != "" {
		return s.model
	}
	if mt == domain.ModelVideoB {
		return "runway-gen3"
	}
	return "veo-3"
}

// AssemblyStage muxes upstream artifacts into the final clip.
type AssemblyStage struct {
	stageBase
}

func (s *AssemblyStage) Kind() orchestrator.StageKind { return orchestrator.KindAssembly }

func (s *AssemblyStage) Execute(ctx context.Context, in orchestrator.StageInput) (orchestrator.StageOutput, error) {
	inputs := make(map[string]string, len(in.Upstream))
	for id, out := range in.Upstream {
		inputs[id] = out.Artifact
	}
	if len(inputs) == 0 {
		return orchestrator.StageOutput{}, orchestrator.Permanent(fmt.Errorf("assembly %s has no upstream artifacts", s.id))
	}

	var resp generation
	if err := s.client.post(ctx, "/assemble", map[string]any{"inputs": inputs, "run_id": in.RunID}, &resp); err != nil {
		return orchestrator.StageOutput{}, err
	}
	return resp.output()
}

// upstreamOf finds the output of the upstream stage named after kind.
func upstreamOf(in orchestrator.StageInput, kind orchestrator.StageKind) (string, bool) {
	if out, ok := in.Upstream[string(kind)]; ok {
		return out.Artifact, true
	}
	return "", false
}
