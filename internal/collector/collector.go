package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"PromptHarvester/internal/domain"
)

// TimeRange bounds how far back a collector looks.
type TimeRange string

const (
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeYear  TimeRange = "year"
	RangeAll   TimeRange = "all"
)

// Valid reports whether r is a known range. Empty is treated as week.
func (r TimeRange) Valid() bool {
	switch r {
	case "", RangeDay, RangeWeek, RangeMonth, RangeYear, RangeAll:
		return true
	default:
		return false
	}
}

// Since returns the earliest timestamp included by the range, zero for all.
func (r TimeRange) Since(now time.Time) time.Time {
	switch r {
	case RangeDay:
		return now.Add(-24 * time.Hour)
	case "", RangeWeek:
		return now.AddDate(0, 0, -7)
	case RangeMonth:
		return now.AddDate(0, -1, 0)
	case RangeYear:
		return now.AddDate(-1, 0, 0)
	default:
		return time.Time{}
	}
}

// Request carries everything a collector needs for one call.
type Request struct {
	SourceName string
	Kind       domain.SourceKind
	Queries    []string
	Limit      int
	TimeRange  TimeRange
	Timeout    time.Duration
	Options    map[string]string
}

// Validate fails fast on malformed requests before any network call.
func (r Request) Validate() error {
	if !r.Kind.Valid() {
		return domain.NewValidationError("kind", "unknown source kind %q", r.Kind)
	}
	if len(r.Queries) == 0 {
		return domain.NewValidationError("queries", "source %s has no queries", r.SourceName)
	}
	if r.Limit <= 0 {
		return domain.NewValidationError("limit", "source %s: limit must be positive", r.SourceName)
	}
	if !r.TimeRange.Valid() {
		return domain.NewValidationError("timeRange", "unknown range %q", r.TimeRange)
	}
	return nil
}

// OptionBaseURL points a request at a specific host of its source kind.
const OptionBaseURL = "baseUrl"

// Option returns a request option or the fallback.
func (r Request) Option(key, fallback string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Result is the outcome of one collect call. Unavailable sources come back
// with no items and a reason, never as an error.
type Result struct {
	SourceName  string
	Kind        domain.SourceKind
	Items       []domain.RawItem
	Unavailable bool
	Partial     bool
	Reason      string
}

// Unavailable builds a result flagging the whole source as down.
func Unavailable(req Request, err error) Result {
	return Result{
		SourceName:  req.SourceName,
		Kind:        req.Kind,
		Unavailable: true,
		Reason:      fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err).Error(),
	}
}

// Collector fetches raw items from one kind of external source.
type Collector interface {
	Kind() domain.SourceKind
	Collect(ctx context.Context, req Request) (Result, error)
}

// Registry keeps a mapping from source kinds to their collectors.
type Registry struct {
	collectors map[domain.SourceKind]Collector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: map[domain.SourceKind]Collector{}}
}

// Register adds or replaces a collector implementation.
func (r *Registry) Register(c Collector) {
	if r.collectors == nil {
		r.collectors = map[domain.SourceKind]Collector{}
	}
	r.collectors[c.Kind()] = c
}

// Resolve returns a collector by kind or an error if it is absent.
func (r *Registry) Resolve(kind domain.SourceKind) (Collector, error) {
	if c, ok := r.collectors[kind]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("collector %s is not registered", kind)
}

// Kinds lists registered kinds in a stable order.
func (r *Registry) Kinds() []domain.SourceKind {
	kinds := make([]domain.SourceKind, 0, len(r.collectors))
	for k := range r.collectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dedup tracks content keys seen during a single collect call.
type Dedup struct {
	seen map[string]struct{}
}

// NewDedup returns an empty tracker.
func NewDedup() *Dedup {
	return &Dedup{seen: map[string]struct{}{}}
}

// Add reports whether the item is new and remembers it.
func (d *Dedup) Add(item domain.RawItem) bool {
	key := item.Key()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
