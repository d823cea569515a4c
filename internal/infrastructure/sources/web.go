package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
)

const (
	defaultWebSelector = "pre, blockquote, code, p"
	minBlockChars      = 40
	maxBlockChars      = 2000
	minBlockWords      = 6
)

// WebCollector scrapes prompt-like text blocks from generic web pages.
// Queries are page URLs; the "selector" option narrows which elements count.
type WebCollector struct {
	fetch  *fetcher
	now    func() time.Time
	logger *slog.Logger
}

var _ collector.Collector = (*WebCollector)(nil)

// NewWebCollector wires a goquery-based collector.
func NewWebCollector(opts Options) *WebCollector {
	opts = opts.withDefaults()
	return &WebCollector{
		fetch:  newFetcher(opts),
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Kind identifies the collector inside the registry.
func (c *WebCollector) Kind() domain.SourceKind {
	return domain.SourceWeb
}

// Collect downloads each page and extracts candidate blocks.
func (c *WebCollector) Collect(ctx context.Context, req collector.Request) (collector.Result, error) {
	if err := req.Validate(); err != nil {
		return collector.Result{}, err
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	selector := req.Option("selector", defaultWebSelector)
	return gather(ctx, req, c.now(), c.logger, func(ctx context.Context, pageURL string, _ int) ([]domain.RawItem, error) {
		doc, err := c.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return extractBlocks(doc, pageURL, selector), nil
	}), nil
}

func (c *WebCollector) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return nil, fmt.Errorf("invalid page url %s: %w", pageURL, err)
	}

	resp, err := c.fetch.get(ctx, pageURL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractBlocks(doc *goquery.Document, pageURL, selector string) []domain.RawItem {
	published := pagePublished(doc)

	var items []domain.RawItem
	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		// nested matches (code inside pre) would repeat the parent text
		if sel.ParentsFiltered(selector).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if !promptLike(text) {
			return
		}
		items = append(items, domain.RawItem{
			ExternalID: pageURL + "#" + strconv.Itoa(i),
			URL:        pageURL,
			Text:       text,
			CreatedAt:  published,
		})
	})
	return items
}

func pagePublished(doc *goquery.Document) time.Time {
	if v, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			return t.UTC()
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		v = strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func promptLike(text string) bool {
	n := len(text)
	if n < minBlockChars || n > maxBlockChars {
		return false
	}
	return len(strings.Fields(text)) >= minBlockWords
}
