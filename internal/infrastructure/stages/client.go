package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/orchestrator"
)

// generation is the common reply of the generation services.
type generation struct {
	ArtifactURL string            `json:"artifact_url"`
	CostUSD     float64           `json:"cost_usd"`
	Metadata    map[string]string `json:"metadata"`
}

// client talks to one generation service over JSON.
type client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func newClient(endpoint, apiKey string, httpClient *http.Client, timeout time.Duration) *client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &client{endpoint: endpoint, apiKey: apiKey, http: httpClient}
}

// post sends payload and decodes the reply into v. 429 and 5xx replies and
// network failures are transient, other non-200 replies are permanent.
func (c *client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return orchestrator.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return orchestrator.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: do request: %w", domain.ErrTransientStage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(snippet))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrTransientStage, statusErr)
		}
		return orchestrator.Permanent(statusErr)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrTransientStage, err)
	}
	return nil
}

func (g generation) output() (orchestrator.StageOutput, error) {
	if g.ArtifactURL == "" {
		return orchestrator.StageOutput{}, fmt.Errorf("%w: reply without artifact", domain.ErrTransientStage)
	}
	return orchestrator.StageOutput{Artifact: g.ArtifactURL, CostUSD: g.CostUSD, Metadata: g.Metadata}, nil
}
