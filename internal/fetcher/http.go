package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/grant-funnel/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig

	// HostRates sets requests per second per host. Other hosts use
	// DefaultRate.
	HostRates   map[string]float64
	DefaultRate float64
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
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

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// StatusError is returned for a non-retryable, non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: unexpected status %d from %s", e.Code, e.URL)
}

// HTTPFetcher implements Fetcher with per-host adaptive rate limiting and
// bounded retries on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "grant-funnel/1.0"
	}
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = 5
	}
	if opts.Retry.InitialBackoff == 0 {
		opts.Retry.InitialBackoff = time.Second
		opts.Retry.MaxBackoff = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// Limiter returns the adaptive limiter for host, creating it on first use.
func (f *HTTPFetcher) Limiter(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	r := f.opts.DefaultRate
	if hr, ok := f.opts.HostRates[host]; ok && hr > 0 {
		r = hr
	}
	lim := NewAdaptiveLimiter(rate.Limit(r), max(1, int(r)))
	f.limiters[host] = lim
	return lim
}

func (f *HTTPFetcher) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	lim := f.Limiter(u.Host)

	retry := f.opts.Retry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: retrying request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: %s %s", method, rawURL)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		if resilience.IsTransientStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, resilience.NewTransientError(
				eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
		}

		lim.OnSuccess()
		return resp, nil
	})
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
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

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck
	return eris.Wrapf(json.NewDecoder(body).Decode(out), "fetcher: decode %s", rawURL)
}

// PostJSON posts in as JSON and decodes the JSON response into out.
func (f *HTTPFetcher) PostJSON(ctx context.Context, rawURL string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "fetcher: encode request")
	}
	resp, err := f.do(ctx, http.MethodPost, rawURL, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return eris.Wrapf(json.NewDecoder(resp.Body).Decode(out), "fetcher: decode %s", rawURL)
}
