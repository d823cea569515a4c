package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
)

const (
	forumBaseURL     = "https://www.reddit.com"
	forumMaxPageSize = 100
)

// ForumCollector reads top posts from subreddit-style JSON listings.
type ForumCollector struct {
	baseURL string
	fetch   *fetcher
	now     func() time.Time
	logger  *slog.Logger
}

var _ collector.Collector = (*ForumCollector)(nil)

// NewForumCollector wires a forum collector. An empty baseURL targets
// reddit.com; a request's OptionBaseURL overrides it per source.
func NewForumCollector(baseURL string, opts Options) *ForumCollector {
	opts = opts.withDefaults()
	if baseURL == "" {
		baseURL = forumBaseURL
	}
	return &ForumCollector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetch:   newFetcher(opts),
		now:     opts.Now,
		logger:  opts.Logger,
	}
}

// Kind identifies the collector inside the registry.
func (c *ForumCollector) Kind() domain.SourceKind {
	return domain.SourceForum
}

// Collect walks each configured community and returns its top posts.
func (c *ForumCollector) Collect(ctx context.Context, req collector.Request) (collector.Result, error) {
	if err := req.Validate(); err != nil {
		return collector.Result{}, err
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	base := strings.TrimSuffix(req.Option(collector.OptionBaseURL, c.baseURL), "/")
	return gather(ctx, req, c.now(), c.logger, func(ctx context.Context, community string, remaining int) ([]domain.RawItem, error) {
		return c.listing(ctx, base, community, req.TimeRange, remaining)
	}), nil
}

type forumListing struct {
	Data struct {
		Children []struct {
			Data forumPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type forumPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Ups         int64   `json:"ups"`
	NumComments int64   `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	Stickied    bool    `json:"stickied"`
}

func (c *ForumCollector) listing(ctx context.Context, base, community string, tr collector.TimeRange, limit int) ([]domain.RawItem, error) {
	target, err := buildListingURL(base, community, tr, limit)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetch.get(ctx, target, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing forumListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", community, err)
	}

	items := make([]domain.RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied {
			continue
		}
		items = append(items, toForumItem(base, post))
	}
	return items, nil
}

func toForumItem(base string, post forumPost) domain.RawItem {
	text := strings.TrimSpace(post.Title)
	if body := strings.TrimSpace(post.SelfText); body != "" {
		text += "\n" + body
	}

	sec, frac := math.Modf(post.CreatedUTC)
	created := time.Unix(int64(sec), int64(frac*1e9)).UTC()

	link := post.Permalink
	if link != "" && !strings.HasPrefix(link, "http") {
		link = base + link
	}

	return domain.RawItem{
		ExternalID: post.ID,
		URL:        link,
		Text:       text,
		Engagement: domain.Engagement{Upvotes: post.Ups, Comments: post.NumComments},
		CreatedAt:  created,
	}
}

func buildListingURL(base, community string, tr collector.TimeRange, limit int) (string, error) {
	community = strings.TrimPrefix(strings.TrimSpace(community), "r/")
	if community == "" {
		return "", fmt.Errorf("empty community name")
	}

	parsed, err := url.Parse(fmt.Sprintf("%s/r/%s/top.json", base, url.PathEscape(community)))
	if err != nil {
		return "", fmt.Errorf("invalid listing url: %w", err)
	}

	if tr == "" {
		tr = collector.RangeWeek
	}
	if limit > forumMaxPageSize {
		limit = forumMaxPageSize
	}

	query := parsed.Query()
	query.Set("t", string(tr))
	query.Set("limit", strconv.Itoa(limit))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
