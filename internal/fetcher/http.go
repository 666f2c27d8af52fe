package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fieldmap/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Rate       rate.Limit
	Burst      int

	// Retry overrides the retry schedule. MaxAttempts is taken from
	// MaxRetries when left zero.
	Retry *resilience.RetryConfig
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
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
	zap.L().Warn("fetcher: backend rate limited, slowing down",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher talks to the map backend with rate limiting, retry on transient
// failures, and classification of every failure into the resilience taxonomy.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *AdaptiveLimiter
	retry   resilience.RetryConfig
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fieldmap/1.0"
	}
	if opts.Rate <= 0 {
		opts.Rate = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.Rate)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries
	if opts.Retry != nil {
		retry = *opts.Retry
		if retry.MaxAttempts == 0 {
			retry.MaxAttempts = opts.MaxRetries
		}
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("backend", "get")
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
		opts:    opts,
		limiter: NewAdaptiveLimiter(opts.Rate, opts.Burst),
		retry:   retry,
	}
}

type singleAttemptKey struct{}

// WithoutRetry marks ctx so requests made with it are tried exactly once.
// Callers that run their own retry loop use it to avoid compounding retries.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey{}, true)
}

func (f *HTTPFetcher) retryFor(ctx context.Context) resilience.RetryConfig {
	cfg := f.retry
	if once, _ := ctx.Value(singleAttemptKey{}).(bool); once {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// Limiter exposes the fetcher's adaptive limiter.
func (f *HTTPFetcher) Limiter() *AdaptiveLimiter { return f.limiter }

// GetJSON fetches rawURL and decodes the JSON body into out. Failures are
// classified: transport errors and 5xx as ErrNetworkFailure (retried), 404
// as ErrDataAbsent, any non-JSON content type or undecodable body as
// ErrFormatMismatch.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := resilience.DoVal(ctx, f.retryFor(ctx), func(ctx context.Context) ([]byte, error) {
		return f.getOnce(ctx, rawURL, true)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(resilience.ErrFormatMismatch, "decode %s: %v", rawURL, err)
	}
	return nil
}

// Download fetches rawURL and returns the response body regardless of type.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, err := resilience.DoVal(ctx, f.retryFor(ctx), func(ctx context.Context) ([]byte, error) {
		return f.getOnce(ctx, rawURL, false)
	})
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// getOnce performs one rate-limited GET and reads the body.
func (f *HTTPFetcher) getOnce(ctx context.Context, rawURL string, wantJSON bool) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if wantJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(resilience.ErrNetworkFailure, "get %s: %v", rawURL, err), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		f.limiter.OnRateLimit()
		return nil, resilience.NewTransientError(
			eris.Wrapf(resilience.ErrNetworkFailure, "http 429 from %s", rawURL), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Wrapf(resilience.ErrNetworkFailure, "http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(resilience.ErrDataAbsent, "http 404 from %s", rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, eris.Wrapf(resilience.ErrNetworkFailure, "http %d from %s", resp.StatusCode, rawURL)
	}

	if wantJSON && !IsJSONContentType(resp.Header.Get("Content-Type")) {
		return nil, eris.Wrapf(resilience.ErrFormatMismatch, "content type %q from %s",
			resp.Header.Get("Content-Type"), rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(resilience.ErrNetworkFailure, "read %s: %v", rawURL, err), resp.StatusCode)
	}
	f.limiter.OnSuccess()
	return body, nil
}

// IsJSONContentType reports whether a Content-Type header names JSON.
func IsJSONContentType(header string) bool {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
