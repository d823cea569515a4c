package harvest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
)

const defaultConcurrency = 4

// Observer is notified after every collect call.
type Observer interface {
	SourceCollected(source string, items int, unavailable bool)
}

// SourceReport summarizes one source's contribution.
type SourceReport struct {
	Name        string
	Kind        domain.SourceKind
	Collected   int
	Unavailable bool
	Partial     bool
	Reason      string
}

// Report is the merged outcome of one harvest.
type Report struct {
	Items   []domain.RawItem
	Sources []SourceReport
}

// Unavailable lists the sources that could not be reached.
func (r Report) Unavailable() []string {
	var names []string
	for _, s := range r.Sources {
		if s.Unavailable {
			names = append(names, s.Name)
		}
	}
	return names
}

// Harvester runs the configured sources concurrently through their collectors.
type Harvester struct {
	registry    *collector.Registry
	requests    []collector.Request
	concurrency int
	observer    Observer
	logger      *slog.Logger
}

// NewHarvester wires the collector registry with config-defined requests.
func NewHarvester(reg *collector.Registry, requests []collector.Request, concurrency int, observer Observer, logger *slog.Logger) *Harvester {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Harvester{
		registry:    reg,
		requests:    requests,
		concurrency: concurrency,
		observer:    observer,
		logger:      logger.With("component", "harvester"),
	}
}

// Validate checks every request and that its collector is registered.
func (h *Harvester) Validate() error {
	if h.registry == nil {
		return domain.NewValidationError("sources", "collector registry is not configured")
	}
	for _, req := range h.requests {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", req.SourceName, err)
		}
		if _, err := h.registry.Resolve(req.Kind); err != nil {
			return domain.NewValidationError("sources."+req.SourceName, "%v", err)
		}
	}
	return nil
}

// Harvest collects from all sources. A source outage is reported, never
// returned as an error; only invalid configuration fails.
func (h *Harvester) Harvest(ctx context.Context) (Report, error) {
	if err := h.Validate(); err != nil {
		return Report{}, err
	}
	h.logger.Debug("harvest started", "sources", len(h.requests))

	results := make([]collector.Result, len(h.requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, req := range h.requests {
		g.Go(func() error {
			results[i] = h.collect(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Sources: make([]SourceReport, 0, len(results))}
	for _, res := range results {
		report.Sources = append(report.Sources, SourceReport{
			Name:        res.SourceName,
			Kind:        res.Kind,
			Collected:   len(res.Items),
			Unavailable: res.Unavailable,
			Partial:     res.Partial,
			Reason:      res.Reason,
		})
		if h.observer != nil {
			h.observer.SourceCollected(res.SourceName, len(res.Items), res.Unavailable)
		}
	}
	report.Items = mergeItems(results)

	h.logger.Info("harvest finished",
		"items", len(report.Items),
		"unavailable", report.Unavailable(),
	)
	return report, nil
}

func (h *Harvester) collect(ctx context.Context, req collector.Request) collector.Result {
	c, err := h.registry.Resolve(req.Kind)
	if err != nil {
		return collector.Unavailable(req, err)
	}
	res, err := c.Collect(ctx, req)
	if err != nil {
		h.logger.Warn("collect failed", "source", req.SourceName, "error", err)
		return collector.Unavailable(req, err)
	}
	if res.SourceName == "" {
		res.SourceName = req.SourceName
	}
	if res.Kind == "" {
		res.Kind = req.Kind
	}
	if res.Unavailable {
		h.logger.Warn("source unavailable", "source", req.SourceName, "reason", res.Reason)
	} else {
		h.logger.Debug("source produced items", "source", req.SourceName, "count", len(res.Items), "partial", res.Partial)
	}
	return res
}

// mergeItems dedups across sources by content key. The copy with the most
// engagement wins and takes the slot of the first occurrence.
func mergeItems(results []collector.Result) []domain.RawItem {
	var merged []domain.RawItem
	index := map[string]int{}
	for _, res := range results {
		for _, item := range res.Items {
			key := item.Key()
			if at, ok := index[key]; ok {
				if item.Engagement.Weight() > merged[at].Engagement.Weight() {
					merged[at] = item
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, item)
		}
	}
	return merged
}
