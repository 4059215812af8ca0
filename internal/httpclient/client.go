// Package httpclient provides the HTTP transport used to load data sources
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "thv-datasource/1.0"

	// ExtraTimeout is the per-request timeout option, in milliseconds
	ExtraTimeout = "timeout"

	// ExtraResponseType set to "text" returns the body as a string
	ExtraResponseType = "responseType"

	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Client is an interface for HTTP operations. Every method returns the
// decoded response payload: JSON bodies are unmarshalled, other bodies are
// returned as strings.
type Client interface {
	// Get performs an HTTP GET request with params encoded in the query
	Get(ctx context.Context, url string, params any, headers map[string]string, extra map[string]any) (any, error)

	// Post performs an HTTP POST request with params encoded in the body
	Post(ctx context.Context, url string, params any, headers map[string]string, extra map[string]any) (any, error)

	// Request performs an HTTP request with an arbitrary method
	Request(
		ctx context.Context, url, method string, params any, headers map[string]string, extra map[string]any,
	) (any, error)

	// JSONP performs a JSONP request and unwraps the callback
	JSONP(ctx context.Context, url string, params any, extra map[string]any) (any, error)
}

// Option configures the default client
type Option func(*DefaultClient)

// WithUserAgent overrides the User-Agent header
func WithUserAgent(userAgent string) Option {
	return func(c *DefaultClient) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithRateLimit throttles outgoing requests to rps requests per second
func WithRateLimit(rps float64, burst int) Option {
	return func(c *DefaultClient) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry retries network failures and 5xx/429 responses up to maxAttempts times in total
func WithRetry(maxAttempts uint, initialInterval time.Duration) Option {
	return func(c *DefaultClient) {
		c.maxAttempts = maxAttempts
		c.initialInterval = initialInterval
	}
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	limiter   *rate.Limiter

	maxAttempts     uint
	initialInterval time.Duration
}

var _ Client = (*DefaultClient)(nil)

// NewDefaultClient creates a new default HTTP client with the specified timeout
// If timeout is 0, uses DefaultTimeout
func NewDefaultClient(timeout time.Duration, opts ...Option) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout:     timeout,
		userAgent:   UserAgent,
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(
	ctx context.Context, url string, params any, headers map[string]string, extra map[string]any,
) (any, error) {
	return c.Request(ctx, url, http.MethodGet, params, headers, extra)
}

// Post performs an HTTP POST request
func (c *DefaultClient) Post(
	ctx context.Context, url string, params any, headers map[string]string, extra map[string]any,
) (any, error) {
	return c.Request(ctx, url, http.MethodPost, params, headers, extra)
}

// Request performs an HTTP request with the given method
func (c *DefaultClient) Request(
	ctx context.Context, url, method string, params any, headers map[string]string, extra map[string]any,
) (any, error) {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	body, err := c.do(ctx, url, method, params, headers, extra)
	if err != nil {
		return nil, err
	}

	if responseType, _ := extra[ExtraResponseType].(string); strings.EqualFold(responseType, "text") {
		return string(body), nil
	}
	return decodeBody(body)
}

func (c *DefaultClient) do(
	ctx context.Context, url, method string, params any, headers map[string]string, extra map[string]any,
) ([]byte, error) {
	if timeout := extraTimeout(extra); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := url
	var payload []byte
	contentType := headerValue(headers, "Content-Type")

	if hasBody(method) {
		var err error
		payload, contentType, err = encodeBody(params, contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	} else {
		query, err := encodeQuery(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode query: %w", err)
		}
		target = appendQuery(url, query)
	}

	operation := func() ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		return c.attempt(ctx, method, target, payload, contentType, headers)
	}

	if c.maxAttempts <= 1 {
		body, err := operation()
		return body, unwrapPermanent(err)
	}

	b := backoff.NewExponentialBackOff()
	if c.initialInterval > 0 {
		b.InitialInterval = c.initialInterval
	}
	return backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxAttempts))
}

func (c *DefaultClient) attempt(
	ctx context.Context, method, url string, payload []byte, contentType string, headers map[string]string,
) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	// Set headers
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", contentTypeJSON)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if contentType != "" && payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	// Execute request
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to execute request: %w", err))
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Check status code
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, URL: url, Message: resp.Status}
		if httpErr.Temporary() {
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}

	// Check Content-Length header if available
	if resp.ContentLength > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf(
			"response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024)))
	}

	// Use LimitReader to prevent reading more than MaxResponseSize
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1) // +1 to detect if limit exceeded
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024)))
	}

	return body, nil
}

func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// decodeBody returns the JSON value of body, or body as a string when it is not JSON
func decodeBody(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return string(body), nil
	}
	var out any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func extraTimeout(extra map[string]any) time.Duration {
	switch v := extra[ExtraTimeout].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	default:
		return 0
	}
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

func hasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return false
	default:
		return true
	}
}
