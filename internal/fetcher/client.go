// Package fetcher executes HTTP requests against calendar sources with
// retry, backoff, and rate-limit respect.
//
// The retry policy is deterministic: 429 honours the Retry-After header
// (falling back to the configured base delay), 5xx and timeouts wait the
// base delay, and any other 4xx fails immediately. The retry budget is
// bounded by MaxRetries; on exhaustion the fetch fails with
// ErrNetworkFailure.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNetworkFailure indicates the retry budget was exhausted or the
// server answered with a non-retryable status. Fatal to a pipeline run.
var ErrNetworkFailure = errors.New("network request failed")

// defaultHeaders are sent on every request unless overridden per request.
// Calendar endpoints reject obviously non-browser clients, so the set
// mimics a regular browser fetch.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Accept":          "text/html,application/json;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

type (
	// Options configure a Client.
	Options struct {
		// MaxRetries is the retry budget per request.
		MaxRetries int

		// RetryDelay is the base backoff applied to 5xx responses,
		// timeouts, and 429 responses without a Retry-After header.
		RetryDelay time.Duration

		// RequestTimeout bounds each individual HTTP attempt.
		RequestTimeout time.Duration

		// RequestsPerSecond paces outgoing requests; zero disables pacing.
		RequestsPerSecond float64

		// MaxBurst is the limiter burst size; defaults to 1 when pacing
		// is enabled.
		MaxBurst int
	}

	// Request describes one fetch. Form takes precedence over Body and is
	// sent URL-encoded.
	Request struct {
		Method  string
		URL     string
		Form    url.Values
		Body    []byte
		Headers map[string]string
	}

	// Metrics are the fetch counters accumulated over a run.
	Metrics struct {
		Requests int `json:"requests"`
		Errors   int `json:"errors"`
		Retries  int `json:"retries"`
	}

	// Client is a retrying HTTP client for source endpoints.
	Client struct {
		httpClient *http.Client
		limiter    *rate.Limiter
		opts       Options
		logger     *slog.Logger

		mu      sync.Mutex
		metrics Metrics
	}
)

// NewClient creates a Client with the given options. Zero-value options
// fall back to sane defaults (3 retries, 2s base delay, 30s timeout).
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter

	if opts.RequestsPerSecond > 0 {
		burst := opts.MaxBurst
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		limiter:    limiter,
		opts:       opts,
		logger:     logger.With("component", "fetcher"),
	}
}

// Get fetches a URL with the retry policy applied.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// PostForm submits a URL-encoded form with the retry policy applied.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Form: form})
}

// Do executes a request, retrying per the policy until the budget is
// spent. The returned error wraps ErrNetworkFailure on any terminal
// failure; context cancellation aborts immediately without a retry.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	c.count(func(m *Metrics) { m.Requests++ })

	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.count(func(m *Metrics) { m.Retries++ })
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
			}
		}

		body, retryAfter, err := c.attempt(ctx, req)
		if err == nil {
			return body, nil
		}

		if ctx.Err() != nil {
			// Cancellation aborts in-flight work with no retry.
			return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, ctx.Err())
		}

		lastErr = err

		if !errors.Is(err, errRetryable) {
			c.count(func(m *Metrics) { m.Errors++ })

			return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}

		if attempt == c.opts.MaxRetries {
			break
		}

		delay := c.opts.RetryDelay
		if retryAfter > 0 {
			delay = retryAfter
		}

		c.logger.Warn("retrying request",
			"url", req.URL,
			"attempt", attempt+1,
			"max_retries", c.opts.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
	}

	c.count(func(m *Metrics) { m.Errors++ })

	return nil, fmt.Errorf("%w: max retries (%d) exceeded for %s: %v",
		ErrNetworkFailure, c.opts.MaxRetries, req.URL, lastErr)
}

// errRetryable marks attempt failures the policy allows retrying.
var errRetryable = errors.New("retryable")

// attempt performs a single HTTP exchange. On a 429 it reports the
// server-requested delay alongside the retryable error.
func (c *Client) attempt(ctx context.Context, req Request) ([]byte, time.Duration, error) {
	var bodyReader io.Reader

	headers := make(map[string]string, len(defaultHeaders)+len(req.Headers)+1)
	for k, v := range defaultHeaders {
		headers[k] = v
	}

	switch {
	case req.Form != nil:
		bodyReader = strings.NewReader(req.Form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	case req.Body != nil:
		bodyReader = bytes.NewReader(req.Body)
	}

	for k, v := range req.Headers {
		headers[k] = v
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport errors and timeouts are retryable.
		return nil, 0, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", errRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("%w: rate limited (429)", errRetryable)

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, 0, fmt.Errorf("%w: server error (%d)", errRetryable, resp.StatusCode)

	default:
		// Remaining 4xx statuses are the caller's fault; retrying cannot help.
		return nil, 0, fmt.Errorf("http %d for %s", resp.StatusCode, req.URL)
	}
}

// Metrics returns a snapshot of the fetch counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.metrics
}

func (c *Client) count(fn func(*Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.metrics)
}

// parseRetryAfter interprets a Retry-After header as delay seconds.
// HTTP-date values and garbage yield zero, deferring to the base delay.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	return 0
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
