package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"PromptHarvester/internal/domain"
)

type stubCollector struct{ kind domain.SourceKind }

func (s stubCollector) Kind() domain.SourceKind { return s.kind }

func (s stubCollector) Collect(context.Context, Request) (Result, error) {
	return Result{Kind: s.kind}, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubCollector{kind: domain.SourceWeb})
	reg.Register(stubCollector{kind: domain.SourceForum})

	if _, err := reg.Resolve(domain.SourceWeb); err != nil {
		t.Fatalf("resolve web: %v", err)
	}
	if _, err := reg.Resolve(domain.SourceVideo); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}

	kinds := reg.Kinds()
	if len(kinds) != 2 || kinds[0] != domain.SourceForum || kinds[1] != domain.SourceWeb {
		t.Fatalf("unexpected kinds order: %v", kinds)
	}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	valid := Request{SourceName: "r", Kind: domain.SourceForum, Queries: []string{"aivideo"}, Limit: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]Request{
		"kind":      {SourceName: "r", Kind: "rss", Queries: []string{"x"}, Limit: 1},
		"queries":   {SourceName: "r", Kind: domain.SourceForum, Limit: 1},
		"limit":     {SourceName: "r", Kind: domain.SourceForum, Queries: []string{"x"}},
		"timeRange": {SourceName: "r", Kind: domain.SourceForum, Queries: []string{"x"}, Limit: 1, TimeRange: "decade"},
	}
	for field, req := range cases {
		err := req.Validate()
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) || vErr.Field != field {
			t.Fatalf("expected %s validation error, got %v", field, err)
		}
	}
}

func TestTimeRangeSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	if got := RangeDay.Since(now); !got.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected day bound %v", got)
	}
	if got := TimeRange("").Since(now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("empty range should default to a week, got %v", got)
	}
	if !RangeAll.Since(now).IsZero() {
		t.Fatalf("all should be unbounded")
	}
}

func TestDedupAndUnavailable(t *testing.T) {
	t.Parallel()

	d := NewDedup()
	if !d.Add(domain.RawItem{Text: "Neon City"}) {
		t.Fatalf("first add should be new")
	}
	if d.Add(domain.RawItem{Text: "neon   city"}) {
		t.Fatalf("normalized duplicate should be rejected")
	}

	res := Unavailable(Request{SourceName: "yt", Kind: domain.SourceVideo}, errors.New("quota"))
	if !res.Unavailable || len(res.Items) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Reason, "source unavailable") || !strings.Contains(res.Reason, "quota") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}
