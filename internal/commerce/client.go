// Package commerce is the rate-limited REST client for the commerce
// platform's inventory API. Every call, whatever its endpoint, goes through
// one serialization gate that spaces requests and retries throttled or
// failed attempts.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/metrics"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("stocksync/commerce")

const maxErrorBody = 4096

// APIError is the terminal failure of a call after retries are exhausted or
// on a non-retryable status
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("commerce: %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("commerce: %s returned status %d after %d attempt(s): %s", e.Endpoint, e.StatusCode, e.Attempts, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AppError classifies the failure for API callers
func (e *APIError) AppError() *goerrors.Error {
	return apperr.External(e, e.Error(), map[string]any{
		"endpoint": e.Endpoint,
		"status":   e.StatusCode,
		"attempts": e.Attempts,
	})
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Spacing    time.Duration
	Retry      RetryPolicy
	Breaker    BreakerSettings
	HTTPClient *http.Client
	Metrics    *metrics.Metrics

	// Now and Sleep are replaced in tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the commerce REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	spacing    time.Duration
	retry      RetryPolicy
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	// gate serializes every request; last is guarded by it
	gate chan struct{}
	last time.Time
}

// NewClient creates a client
func NewClient(opts Options) *Client {
	opts.Retry.SetDefaults()
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(opts.Timeout)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		spacing:    opts.Spacing,
		retry:      opts.Retry,
		breaker:    newBreaker(opts.Breaker, opts.Metrics),
		metrics:    opts.Metrics,
		now:        opts.Now,
		sleep:      opts.Sleep,
		gate:       make(chan struct{}, 1),
	}
}

// NewHTTPClient creates an HTTP client with connection pooling
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// BreakerState returns the circuit breaker state name
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// call runs one logical request through the gate, the breaker and the retry
// loop. The gate is held across retries so a throttled call also holds back
// calls to other endpoints.
func (c *Client) call(ctx context.Context, endpoint, method, path string, query url.Values, payload any) (*response, error) {
	ctx, span := tracer.Start(ctx, "commerce."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("commerce.endpoint", endpoint),
		),
	)
	defer span.End()

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("commerce: marshal %s payload: %w", endpoint, err)
		}
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.gate }()

	start := c.now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.attempts(ctx, endpoint, method, path, query, body)
	})

	status := 0
	if resp, ok := result.(*response); ok && resp != nil {
		status = resp.StatusCode
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	c.metrics.RecordCommerceRequest(endpoint, status, c.now().Sub(start))
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &APIError{Endpoint: endpoint, Err: ErrCircuitOpen}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result.(*response), nil
}

func (c *Client) attempts(ctx context.Context, endpoint, method, path string, query url.Values, body []byte) (*response, error) {
	maxAttempts := c.retry.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		if err := c.waitSpacing(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, path, query, body)
		c.last = c.now()

		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		statusCode := 0
		var header http.Header
		var lastBody string
		if resp != nil {
			statusCode = resp.StatusCode
			header = resp.Header
			lastBody = truncate(string(resp.Body), maxErrorBody)
		}

		if !Retryable(statusCode, err) || attempt >= maxAttempts {
			return nil, &APIError{
				Endpoint:   endpoint,
				StatusCode: statusCode,
				Body:       lastBody,
				Attempts:   attempt,
				Err:        err,
			}
		}

		delay := c.retry.Backoff(attempt)
		source := "backoff"
		if hint, ok := RetryAfter(header, c.now()); ok {
			delay = hint
			source = "retry-after"
		}
		c.metrics.RecordCommerceRetry(endpoint, retryReason(statusCode, err))
		slog.Warn("Commerce call failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"status_code", statusCode,
			"delay_ms", delay.Milliseconds(),
			"delay_source", source,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) waitSpacing(ctx context.Context) error {
	if c.spacing <= 0 || c.last.IsZero() {
		return nil
	}
	wait := c.spacing - c.now().Sub(c.last)
	if wait <= 0 {
		return nil
	}
	return c.sleep(ctx, wait)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
