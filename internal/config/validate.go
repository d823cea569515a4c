package config

import (
	"context"
	"errors"
	"fmt"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/orchestrator"
)

// Validate rejects malformed configuration before any network or store use.
func (c Config) Validate() error {
	seen := map[string]struct{}{}
	for i, src := range c.Sources {
		if src.Name == "" {
			return domain.NewValidationError(fmt.Sprintf("sources[%d].name", i), "empty source name")
		}
		if _, dup := seen[src.Name]; dup {
			return domain.NewValidationError("sources."+src.Name, "duplicate source name")
		}
		seen[src.Name] = struct{}{}
		if err := src.Request().Validate(); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}

	if err := c.Scoring.ScorerWeights().Validate(); err != nil {
		return err
	}
	if c.Scoring.MinScore < 0 || c.Scoring.MinScore > domain.MaxScore {
		return domain.NewValidationError("scoring.minScore", "must be within [0,10], got %v", c.Scoring.MinScore)
	}
	if c.Scoring.HalfLife < 0 {
		return domain.NewValidationError("scoring.halfLife", "must not be negative")
	}

	switch c.Analyzer.Backend {
	case "", "none", "gemini", "chatgpt":
	default:
		return domain.NewValidationError("analyzer.backend", "unknown backend %q", c.Analyzer.Backend)
	}
	if c.Analyzer.MaxItems < 0 {
		return domain.NewValidationError("analyzer.maxItems", "must not be negative")
	}

	o := c.Orchestration
	if o.MaxRetries < 0 {
		return domain.NewValidationError("orchestration.maxRetries", "must not be negative")
	}
	if o.BaseDelay < 0 || o.MaxDelay < 0 || o.RunTimeout < 0 {
		return domain.NewValidationError("orchestration", "delays and timeouts must not be negative")
	}
	if o.CostCeilingUSD < 0 {
		return domain.NewValidationError("orchestration.costCeilingUsd", "must not be negative")
	}
	if o.Seeds <= 0 {
		return domain.NewValidationError("orchestration.seeds", "must be positive")
	}
	if o.ModelType != "" && !knownModelType(domain.ModelType(o.ModelType)) {
		return domain.NewValidationError("orchestration.modelType", "unknown model type %q", o.ModelType)
	}

	return c.validateStages()
}

func knownModelType(mt domain.ModelType) bool {
	for _, known := range domain.ModelTypes {
		if mt == known {
			return true
		}
	}
	return false
}

// validateStages checks the declared graph shape without building clients.
func (c Config) validateStages() error {
	if len(c.Stages) == 0 {
		return nil
	}
	nodes := make([]orchestrator.Node, 0, len(c.Stages))
	for _, s := range c.Stages {
		nodes = append(nodes, orchestrator.Node{
			Stage:     declaredStage{id: s.ID, kind: orchestrator.StageKind(s.Kind)},
			DependsOn: s.DependsOn,
		})
	}
	_, err := orchestrator.NewGraph(nodes...)
	return err
}

type declaredStage struct {
	id   string
	kind orchestrator.StageKind
}

func (d declaredStage) ID() string                   { return d.id }
func (d declaredStage) Kind() orchestrator.StageKind { return d.kind }

func (d declaredStage) Execute(context.Context, orchestrator.StageInput) (orchestrator.StageOutput, error) {
	return orchestrator.StageOutput{}, errors.New("declared stage is not executable")
}
