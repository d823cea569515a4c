package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "PromptHarvester/1.0"

var (
	errRetryableStatus = errors.New("retryable status")
	errRateLimited     = errors.New("rate limit would exceed deadline")
)

// Options tunes the shared HTTP behaviour of every collector.
type Options struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	UserAgent         string
	Now               func() time.Time
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 1
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// fetcher issues rate-limited GET requests retried on 429/5xx and network errors.
type fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	executor  failsafe.Executor[*http.Response]
	userAgent string
}

func newFetcher(opts Options) *fetcher {
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(_ *http.Response, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	return &fetcher{
		client:    opts.HTTPClient,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		executor:  failsafe.With(policy),
		userAgent: opts.UserAgent,
	}
}

// wait blocks for a rate-limit token. When the wait would overrun the
// context deadline it fails immediately with errRateLimited.
func (f *fetcher) wait(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("%w: %w", errRateLimited, err)
		}
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// get returns a response with a non-retryable status. The caller closes the body.
func (f *fetcher) get(ctx context.Context, target string, headers map[string]string) (*http.Response, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := f.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", errRetryableStatus, resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("get %s: %w", target, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", target, resp.Status)
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
