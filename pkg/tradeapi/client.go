// Package tradeapi provides a Go client for a brokerage trading and market
// data REST API.
//
// The client retries requests that fail with a configured set of transient
// status codes and walks cursor based pagination lazily. Higher level
// methods for accounts, orders, positions and market data are built on
// Request and Paginate.
package tradeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default endpoints.
const (
	LiveBaseURL       = "https://api.alpaca.markets"
	PaperBaseURL      = "https://paper-api.alpaca.markets"
	DataBaseURL       = "https://data.alpaca.markets"
	DefaultAPIVersion = "v2"
)

// Client handles HTTP requests to the trading and market data API.
// A Client is safe for concurrent use.
type Client struct {
	baseURL    string
	dataURL    string
	apiVersion string
	creds      Credentials
	retry      RetryPolicy
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
	metrics    *clientMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the trading API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithDataURL sets the market data API base URL.
func WithDataURL(u string) Option {
	return func(c *Client) { c.dataURL = strings.TrimSuffix(u, "/") }
}

// WithAPIVersion sets the default API version path segment.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p.clone() }
}

// WithRateLimit limits outgoing attempts to rps requests per second with the
// given burst. Retries count against the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log.Named("tradeapi")
		}
	}
}

// WithMetrics registers request counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = newClientMetrics(reg) }
}

// NewClient creates a client authenticated with creds. Credentials and
// retry policy are validated before the client is returned.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    LiveBaseURL,
		dataURL:    DataBaseURL,
		apiVersion: DefaultAPIVersion,
		creds:      creds,
		retry:      DefaultRetryPolicy(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.retry.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(c.baseURL); err != nil || c.baseURL == "" {
		return nil, &ValidationError{Field: "base URL", Reason: fmt.Sprintf("%q is not a valid URL", c.baseURL)}
	}

	return c, nil
}

// BaseURL returns the trading API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// DataURL returns the market data API base URL.
func (c *Client) DataURL() string { return c.dataURL }

// Paper returns true when the client talks to the paper trading sandbox.
func (c *Client) Paper() bool { return IsPaperURL(c.baseURL) }

// IsPaperURL infers the sandbox environment from a base URL.
func IsPaperURL(baseURL string) bool {
	return strings.Contains(strings.ToLower(baseURL), "paper")
}

// RequestOption overrides per-request settings.
type RequestOption func(*requestConfig)

type requestConfig struct {
	baseURL    string
	apiVersion string
}

// OnBaseURL sends the request to a different base URL, for example the
// market data host.
func OnBaseURL(u string) RequestOption {
	return func(rc *requestConfig) { rc.baseURL = strings.TrimSuffix(u, "/") }
}

// OnAPIVersion overrides the API version path segment for one request.
func OnAPIVersion(v string) RequestOption {
	return func(rc *requestConfig) { rc.apiVersion = v }
}

// Request sends method to path and returns the response body.
//
// For GET and DELETE the payload is encoded into the query string; it may be
// nil, url.Values, map[string]string or a struct with `url` tags. For other
// methods the payload is sent as a JSON body. A successful response with an
// empty body returns a nil body and a nil error.
//
// Responses with a status in the retry policy are retried after the policy
// wait until the retries are exhausted. Other non-2xx responses return an
// *APIError. Transport errors are returned unmodified and are not retried.
func (c *Client) Request(ctx context.Context, method, path string, payload any, opts ...RequestOption) (json.RawMessage, error) {
	rc := requestConfig{baseURL: c.baseURL, apiVersion: c.apiVersion}
	for _, opt := range opts {
		opt(&rc)
	}

	target, body, err := buildRequest(rc, method, path, payload)
	if err != nil {
		return nil, err
	}

	retries := c.retry.MaxRetries
	for attempt := 1; ; attempt++ {
		out := c.send(ctx, method, target, body)
		c.metrics.observe(method, out)

		switch out.kind {
		case outcomeOK:
			if len(out.body) == 0 {
				return nil, nil
			}
			return json.RawMessage(out.body), nil
		case outcomeFatal:
			return nil, out.err
		}

		if retries <= 0 {
			c.metrics.giveUp()
			return nil, newAPIError(out.status, out.body)
		}
		retries--

		c.log.Warn("retrying request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", out.status),
			zap.Int("attempt", attempt),
			zap.Int("retries_left", retries),
			zap.Duration("wait", c.retry.Wait),
		)
		if err := sleep(ctx, c.retry.Wait); err != nil {
			return nil, err
		}
	}
}

// Get performs a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, params any, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodGet, path, params, out, opts...)
}

// Post performs a POST request and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPost, path, body, out, opts...)
}

// Patch performs a PATCH request and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPatch, path, body, out, opts...)
}

// Delete performs a DELETE request and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, params any, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodDelete, path, params, out, opts...)
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any, opts ...RequestOption) error {
	body, err := c.Request(ctx, method, path, payload, opts...)
	if err != nil {
		return err
	}
	if out == nil || body == nil {
		return nil
	}
	return DecodeJSON(body, out)
}

// DecodeJSON decodes a JSON response body into the given target.
func DecodeJSON(body []byte, target any) error {
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// outcome is the result of a single attempt.
type outcome struct {
	kind   outcomeKind
	status int
	body   []byte
	err    error
}

// send performs a single HTTP attempt and classifies the result.
func (c *Client) send(ctx context.Context, method, target string, body []byte) outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return outcome{kind: outcomeFatal, err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return outcome{kind: outcomeFatal, err: fmt.Errorf("failed to create request: %w", err)}
	}

	c.creds.apply(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outcome{kind: outcomeFatal, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{kind: outcomeFatal, err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcome{kind: outcomeOK, status: resp.StatusCode, body: data}
	case c.retry.Retryable(resp.StatusCode):
		return outcome{kind: outcomeRetryable, status: resp.StatusCode, body: data}
	default:
		return outcome{kind: outcomeFatal, status: resp.StatusCode, err: newAPIError(resp.StatusCode, data)}
	}
}

// buildRequest resolves the target URL and encodes the payload.
func buildRequest(rc requestConfig, method, path string, payload any) (string, []byte, error) {
	target := rc.baseURL
	if rc.apiVersion != "" {
		target += "/" + rc.apiVersion
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target += path

	if payload == nil {
		return target, nil, nil
	}

	switch method {
	case http.MethodGet, http.MethodDelete:
		values, err := queryValues(payload)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode query: %w", err)
		}
		if len(values) > 0 {
			target += "?" + values.Encode()
		}
		return target, nil, nil
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode request: %w", err)
		}
		return target, body, nil
	}
}

func queryValues(payload any) (url.Values, error) {
	switch v := payload.(type) {
	case url.Values:
		return v, nil
	case map[string]string:
		values := url.Values{}
		for k, s := range v {
			values.Set(k, s)
		}
		return values, nil
	default:
		return query.Values(payload)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
