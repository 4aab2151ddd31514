package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geo-catalog/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// Rate is the initial per-host request rate. Default: 5/s.
	Rate  rate.Limit
	Burst int
}

// AdaptiveLimiter wraps a rate.Limiter that speeds up by 20% after each
// success (up to 2x initial) and halves on 429 (down to initial/4).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(a.Limit() * 1.2)
}

// OnRateLimit lowers the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.set(a.Limit() * 0.5)
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r = min(max(r, a.minRate), a.maxRate)
	a.currentRate = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements ConditionalFetcher over net/http with per-host
// adaptive rate limiting and retry on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	policy resilience.Policy

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geo-catalog/1.0"
	}
	if opts.Rate == 0 {
		opts.Rate = 5
	}
	if opts.Burst == 0 {
		opts.Burst = 5
	}
	policy := resilience.DefaultPolicy().WithAttempts(opts.MaxRetries)
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		policy:   policy,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(u *url.URL) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.Rate, f.opts.Burst)
		f.limiters[u.Host] = lim
	}
	return lim
}

// do sends a request, retrying transient failures. A
// response with a status in accept is returned to the caller, who must
// close its body.
func (f *HTTPFetcher) do(ctx context.Context, method, rawURL string, header http.Header, accept ...int) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "http: parse url %q", rawURL)
	}
	lim := f.limiterFor(u)

	p := f.policy
	p.OnRetry = resilience.LogRetry("fetcher", rawURL)

	return resilience.DoVal(ctx, p, func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "http: create request")
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "http: request")
		}

		for _, code := range accept {
			if resp.StatusCode == code {
				lim.OnSuccess()
				return resp, nil
			}
		}

		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
			zap.L().Warn("rate limited (429), backing off",
				zap.String("url", rawURL),
				zap.Float64("new_rate", float64(lim.Limit())),
			)
		}
		return nil, resilience.StatusError(resp.StatusCode, rawURL)
	})
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL, nil, http.StatusOK)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return writeFile(path, body)
}

// DownloadIfChanged fetches the URL only if the ETag has changed.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}

	resp, err := f.do(ctx, http.MethodGet, rawURL, header, http.StatusOK, http.StatusNotModified)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "download if changed")
	}

	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, etag, false, nil
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}

// writeFile copies r into a new file at path.
func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, r)
	if err != nil {
		file.Close() //nolint:errcheck
		return n, eris.Wrap(err, "write file")
	}
	if err := file.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	return n, nil
}
