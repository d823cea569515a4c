package sources

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
)

type queryFunc func(ctx context.Context, query string, remaining int) ([]domain.RawItem, error)

// withTimeout bounds a collect call when the request carries a timeout.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// gather runs fetch for every query until the limit is reached, the deadline
// passes, or queries run out. Items older than the time range, blank items
// and duplicates within the call are dropped. Items without a timestamp are
// stamped with now. A source where no query succeeded is reported
// unavailable; running out of rate-limit budget only makes the result partial.
func gather(ctx context.Context, req collector.Request, now time.Time, logger *slog.Logger, fetch queryFunc) collector.Result {
	res := collector.Result{SourceName: req.SourceName, Kind: req.Kind}
	since := req.TimeRange.Since(now)
	dedup := collector.NewDedup()

	var (
		lastErr   error
		succeeded int
	)

	for _, query := range req.Queries {
		if len(res.Items) >= req.Limit {
			break
		}
		if ctx.Err() != nil {
			res.Partial = true
			res.Reason = "deadline reached before all queries ran"
			break
		}

		items, err := fetch(ctx, query, req.Limit-len(res.Items))
		if errors.Is(err, errRateLimited) {
			res.Partial = true
			res.Reason = errRateLimited.Error()
			break
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				res.Partial = true
				res.Reason = "deadline reached: " + err.Error()
				break
			}
			logger.Warn("query failed", "source", req.SourceName, "query", query, "error", err)
			continue
		}
		succeeded++

		for _, item := range items {
			if item.CreatedAt.IsZero() {
				item.CreatedAt = now
			}
			if strings.TrimSpace(item.Text) == "" || item.CreatedAt.Before(since) {
				continue
			}
			item.Source = req.Kind
			item.SourceName = req.SourceName
			if item.ModelTypeHint == "" {
				item.ModelTypeHint = domain.InferModelType(item.Text)
			}
			if !dedup.Add(item) {
				continue
			}
			res.Items = append(res.Items, item)
			if len(res.Items) >= req.Limit {
				break
			}
		}
	}

	if succeeded == 0 && lastErr != nil {
		out := collector.Unavailable(req, lastErr)
		out.Partial = res.Partial
		return out
	}

	logger.Debug("source collected", "source", req.SourceName, "items", len(res.Items), "partial", res.Partial)
	return res
}
