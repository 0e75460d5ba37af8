// Package transport sends platform API requests through the shared rate
// limiter and retries transient failures with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"notepub/internal/clock"
	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/ratelimit"
	"notepub/pkg/utils"
)

// Failure kinds. Every error returned by Send for an HTTP status wraps one
// of these.
var (
	ErrAuthExpired = errors.New("authentication expired")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrServerError = errors.New("server error")
	ErrAPI         = errors.New("api error")
)

// ErrInvalidRequest is returned without any attempt when the request cannot
// be built.
var ErrInvalidRequest = errors.New("invalid request")

const maxResponseBytes = 10 * 1024 * 1024

// StatusError reports a non-2xx response.
type StatusError struct {
	Kind       error
	Detail     string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	}

	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// NetworkError reports a request that never produced a response after all
// attempts. It unwraps to the last underlying error.
type NetworkError struct {
	Err      error
	Attempts int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Request is a replayable HTTP request. Body is sent unchanged on every
// attempt. Attempt is the 0-indexed attempt currently in flight.
type Request struct {
	Header  http.Header
	Method  string
	URL     string
	Body    []byte
	Attempt int
}

// Response is a fully read HTTP response.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Transport executes requests with classification-driven retry.
type Transport struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	clock   clock.Clock
	policy  config.RetryPolicy
	logger  *logger.Logger
}

// New creates a transport. Every attempt acquires limiter first.
func New(policy config.RetryPolicy, limiter *ratelimit.Limiter, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Discard()
	}

	return &Transport{
		client: &http.Client{
			Timeout: policy.GetTimeout(),
		},
		limiter: limiter,
		clock:   clock.System{},
		policy:  policy,
		logger:  log,
	}
}

// WithClock replaces the clock used for backoff sleeps.
func (t *Transport) WithClock(clk clock.Clock) *Transport {
	t.clock = clk
	return t
}

// WithHTTPClient replaces the underlying HTTP client.
func (t *Transport) WithHTTPClient(client *http.Client) *Transport {
	t.client = client
	return t
}

// Classify maps a status code to a failure kind. kind is nil for 2xx.
func Classify(status int) (kind error, retryable bool) {
	switch {
	case status >= 200 && status < 300:
		return nil, false
	case status == http.StatusTooManyRequests:
		return ErrRateLimited, true
	case status >= 500:
		return ErrServerError, true
	case status == http.StatusUnauthorized:
		return ErrAuthExpired, false
	case status == http.StatusBadRequest:
		return ErrBadRequest, false
	}

	return ErrAPI, false
}

// Send executes req, retrying 429, 5xx and network failures up to
// MaxRetries times with base*2^attempt backoff.
func (t *Transport) Send(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 0; ; attempt++ {
		req.Attempt = attempt

		httpReq, err := newHTTPRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}

		if err := t.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		resp, err := t.do(httpReq, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			if attempt >= t.policy.MaxRetries {
				return nil, &NetworkError{Err: err, Attempts: attempt + 1}
			}

			t.logger.Warn("request failed, retrying",
				"method", req.Method, "url", req.URL, "attempt", attempt+1, "error", err)

			if err := t.backoff(ctx, attempt); err != nil {
				return nil, err
			}

			continue
		}

		kind, retryable := Classify(resp.StatusCode)
		if kind == nil {
			return resp, nil
		}

		statusErr := &StatusError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Detail:     utils.Preview(string(resp.Body), 200),
		}

		if !retryable || attempt >= t.policy.MaxRetries {
			t.logger.Debug("request failed", "method", req.Method, "url", req.URL, "status", resp.StatusCode)
			return nil, statusErr
		}

		t.logger.Warn("retryable status, backing off",
			"method", req.Method, "url", req.URL, "status", resp.StatusCode, "attempt", attempt+1)

		if err := t.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (t *Transport) backoff(ctx context.Context, attempt int) error {
	delay := t.policy.GetRetryDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}

	return t.clock.Sleep(ctx, delay)
}

func newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	return httpReq, nil
}

func (t *Transport) do(httpReq *http.Request, req *Request) (*Response, error) {
	start := time.Now()

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))

	// A close failure after the read does not fail the response.
	if closeErr := httpResp.Body.Close(); closeErr != nil {
		t.logger.Debug("failed to close response body", "url", req.URL, "error", closeErr)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	t.logger.Debug("response received",
		"method", req.Method, "url", req.URL, "status", httpResp.StatusCode,
		"attempt", req.Attempt+1, "duration", time.Since(start))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
