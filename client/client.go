// Package client provides the HTTP client shared by the registry and hosting
// API adapters: user agent and auth headers, retry on rate limiting and server
// errors, and optional request pacing.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenk/backoff"
)

const (
	defaultUserAgent  = "addinaudit"
	defaultRetryAfter = 60 * time.Second
	maxErrorBody      = 1024
)

// RateLimiter controls request pacing. *rate.Limiter satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Client is an HTTP client with retry logic for registry and hosting APIs.
type Client struct {
	http              *http.Client
	userAgent         string
	maxRetries        int
	baseDelay         time.Duration
	defaultRetryAfter time.Duration
	retryServerErrors bool
	rateLimiter       RateLimiter
	header            http.Header
}

// Option configures a Client.
type Option func(*Client)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries
// - Retry on 429 (honoring Retry-After) and on 5xx with exponential backoff
func DefaultClient() *Client {
	return NewClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:              &http.Client{Timeout: 30 * time.Second},
		userAgent:         defaultUserAgent,
		maxRetries:        5,
		baseDelay:         500 * time.Millisecond,
		defaultRetryAfter: defaultRetryAfter,
		retryServerErrors: true,
		header:            make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithMaxRetries sets the maximum number of retries. Total attempts are n+1.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the initial backoff interval for server error retries.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithDefaultRetryAfter sets the wait used for 429 responses without a
// Retry-After header.
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(c *Client) {
		c.defaultRetryAfter = d
	}
}

// WithServerErrorRetry toggles retrying 5xx responses. When off, only 429
// responses are retried.
func WithServerErrorRetry(enabled bool) Option {
	return func(c *Client) {
		c.retryServerErrors = enabled
	}
}

// WithRateLimiter paces every attempt through l.
func WithRateLimiter(l RateLimiter) Option {
	return func(c *Client) {
		c.rateLimiter = l
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.header.Set(name, value)
	}
}

// WithUserAgent returns a copy of the client using ua.
func (c *Client) WithUserAgent(ua string) *Client {
	clone := *c
	clone.header = c.header.Clone()
	clone.userAgent = ua
	return &clone
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// GetBody fetches url and returns the raw body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetText fetches url and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.GetBody(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Head issues a HEAD request and returns the final status code. Responses of
// 400 and above are returned as *HTTPError alongside the status.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	resp, err := c.Do(ctx, http.MethodHead, url, nil)
	if resp != nil {
		return resp.StatusCode, err
	}
	return 0, err
}

// Get issues a GET request with extra headers.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, header)
}

// Do issues a request, retrying 429 responses after the server supplied
// Retry-After (or the default wait) and 5xx responses with exponential backoff.
// Transport errors and other statuses are returned immediately.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, method, url, header)
		if err != nil {
			return nil, err
		}

		var wait time.Duration
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = retryAfter(resp.Header, c.defaultRetryAfter)
			lastErr = &RateLimitError{RetryAfter: int(wait / time.Second), URL: url, Attempts: attempt + 1}
		case resp.StatusCode >= 500 && c.retryServerErrors:
			wait = b.NextBackOff()
			lastErr = &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: truncate(resp.Body)}
		case resp.StatusCode >= 400:
			return resp, &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: truncate(resp.Body)}
		default:
			return resp, nil
		}

		if attempt >= c.maxRetries {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) once(ctx context.Context, method, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for name, values := range c.header {
		req.Header[name] = values
	}
	for name, values := range header {
		req.Header[name] = values
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// retryAfter reads a Retry-After header given either in seconds or as an
// HTTP date.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
