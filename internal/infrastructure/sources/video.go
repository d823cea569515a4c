package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
)

const videoMaxPageSize = 50

// VideoCollector searches a video platform and reads per-video statistics.
type VideoCollector struct {
	clientOptions []option.ClientOption
	fetch         *fetcher
	now           func() time.Time
	logger        *slog.Logger
}

var _ collector.Collector = (*VideoCollector)(nil)

// NewVideoCollector builds a collector authenticated by API key. Extra
// client options replace the key-based defaults (used to point at a test server).
func NewVideoCollector(apiKey string, opts Options, clientOptions ...option.ClientOption) *VideoCollector {
	opts = opts.withDefaults()
	if len(clientOptions) == 0 && apiKey != "" {
		clientOptions = []option.ClientOption{option.WithAPIKey(apiKey)}
	}
	return &VideoCollector{
		clientOptions: clientOptions,
		fetch:         newFetcher(opts),
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// Kind identifies the collector inside the registry.
func (c *VideoCollector) Kind() domain.SourceKind {
	return domain.SourceVideo
}

// Collect runs one search per query, most viewed first.
func (c *VideoCollector) Collect(ctx context.Context, req collector.Request) (collector.Result, error) {
	if err := req.Validate(); err != nil {
		return collector.Result{}, err
	}
	if len(c.clientOptions) == 0 {
		return collector.Unavailable(req, fmt.Errorf("video api key is not configured")), nil
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	svc, err := youtube.NewService(ctx, c.clientOptions...)
	if err != nil {
		return collector.Unavailable(req, fmt.Errorf("create video service: %w", err)), nil
	}

	since := req.TimeRange.Since(c.now())
	return gather(ctx, req, c.now(), c.logger, func(ctx context.Context, query string, remaining int) ([]domain.RawItem, error) {
		return c.search(ctx, svc, query, since, remaining)
	}), nil
}

func (c *VideoCollector) search(ctx context.Context, svc *youtube.Service, query string, since time.Time, limit int) ([]domain.RawItem, error) {
	if limit > videoMaxPageSize {
		limit = videoMaxPageSize
	}

	if err := c.fetch.wait(ctx); err != nil {
		return nil, err
	}
	call := svc.Search.List([]string{"id"}).
		Q(query).
		Type("video").
		Order("viewCount").
		MaxResults(int64(limit))
	if !since.IsZero() {
		call = call.PublishedAfter(since.UTC().Format(time.RFC3339))
	}
	searchResp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	ids := make([]string, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := c.fetch.wait(ctx); err != nil {
		return nil, err
	}
	videosResp, err := svc.Videos.List([]string{"snippet", "statistics"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("video statistics %q: %w", query, err)
	}

	items := make([]domain.RawItem, 0, len(videosResp.Items))
	for _, video := range videosResp.Items {
		if video.Snippet == nil {
			continue
		}
		items = append(items, toVideoItem(video))
	}
	return items, nil
}

func toVideoItem(video *youtube.Video) domain.RawItem {
	text := strings.TrimSpace(video.Snippet.Title)
	if desc := strings.TrimSpace(video.Snippet.Description); desc != "" {
		text += "\n" + desc
	}

	created, err := time.Parse(time.RFC3339, video.Snippet.PublishedAt)
	if err != nil {
		created = time.Time{}
	}

	var engagement domain.Engagement
	if stats := video.Statistics; stats != nil {
		engagement = domain.Engagement{
			Upvotes:  int64(stats.LikeCount),
			Comments: int64(stats.CommentCount),
			Views:    int64(stats.ViewCount),
		}
	}

	return domain.RawItem{
		ExternalID: video.Id,
		URL:        fmt.Sprintf("https://www.youtube.com/watch?v=%s", video.Id),
		Text:       text,
		Engagement: engagement,
		CreatedAt:  created.UTC(),
	}
}
