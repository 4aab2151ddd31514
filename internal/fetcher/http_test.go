package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestFetcher() *HTTPFetcher {
	f := NewHTTPFetcher(HTTPOptions{Timeout: 5 * time.Second, MaxRetries: 3, Rate: 1000, Burst: 100})
	f.policy.Base = time.Millisecond
	f.policy.Cap = 5 * time.Millisecond
	return f
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "geo-catalog/1.0", f.opts.UserAgent)
	assert.Equal(t, 5*time.Minute, f.opts.Timeout)
	assert.Equal(t, 3, f.policy.Attempts)
	assert.Equal(t, rate.Limit(5), f.opts.Rate)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "geo-catalog/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"proposal_id":"1"}]`))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/emsl.json")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `[{"proposal_id":"1"}]`, string(data))
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("id,lat_lon\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nmdc.csv")
	n, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "id,lat_lon\n", string(data))

	_, err = newTestFetcher().DownloadToFile(context.Background(), srv.URL, "/nonexistent/dir/x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownload_429LowersRate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = body.Close()

	u, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	// Halved to 500 then raised by 20% after the success.
	assert.InDelta(t, 600, float64(f.limiterFor(u.URL).Limit()), 0.001)
}

func TestDownload_InvalidURLAndCancelledContext(t *testing.T) {
	_, err := newTestFetcher().Download(context.Background(), "://bad")
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestFetcher().Download(ctx, srv.URL)
	require.Error(t, err)
}

func TestDownloadIfChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	f := newTestFetcher()

	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL, `"v1"`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `"v2"`, etag)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Equal(t, "fresh", string(data))

	body, etag, changed, err = f.DownloadIfChanged(context.Background(), srv.URL, `"v2"`)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, `"v2"`, etag)
}

func TestAdaptiveLimiter(t *testing.T) {
	a := NewAdaptiveLimiter(10, 10)

	a.OnSuccess()
	assert.InDelta(t, 12, float64(a.Limit()), 0.001)
	for range 20 {
		a.OnSuccess()
	}
	assert.InDelta(t, 20, float64(a.Limit()), 0.001)

	for range 20 {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001)

	require.NoError(t, a.Wait(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewAdaptiveLimiter(0.001, 1)
	require.NoError(t, slow.Wait(context.Background()))
	assert.Error(t, slow.Wait(ctx))
}

func TestLimiterFor_PerHost(t *testing.T) {
	f := newTestFetcher()
	a, _ := http.NewRequest(http.MethodGet, "https://data.ess-dive.lbl.gov/x", nil)
	b, _ := http.NewRequest(http.MethodGet, "https://data.ess-dive.lbl.gov/y", nil)
	c, _ := http.NewRequest(http.MethodGet, "https://gold.jgi.doe.gov/z", nil)
	assert.Same(t, f.limiterFor(a.URL), f.limiterFor(b.URL))
	assert.NotSame(t, f.limiterFor(a.URL), f.limiterFor(c.URL))
}
