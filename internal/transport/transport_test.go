package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"notepub/internal/clock"
	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/ratelimit"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTransport(clk *clock.Fake) *Transport {
	policy := config.RetryPolicy{MaxRetries: 3, BaseDelayMs: 1000, TimeoutSec: 5}
	limiter := ratelimit.New(time.Second, clk)

	return New(policy, limiter, logger.Discard()).WithClock(clk)
}

// scriptedServer replies with statuses in order, repeating the last one.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		_, _ = w.Write([]byte(`{"error":"status body"}`))
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  error
		retryable bool
	}{
		{200, nil, false},
		{201, nil, false},
		{400, ErrBadRequest, false},
		{401, ErrAuthExpired, false},
		{403, ErrAPI, false},
		{404, ErrAPI, false},
		{429, ErrRateLimited, true},
		{500, ErrServerError, true},
		{503, ErrServerError, true},
	}

	for _, tt := range tests {
		kind, retryable := Classify(tt.status)
		if kind != tt.wantKind || retryable != tt.retryable {
			t.Errorf("Classify(%d) = (%v, %v), want (%v, %v)", tt.status, kind, retryable, tt.wantKind, tt.retryable)
		}
	}
}

func TestSend_Success(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("Expected X-Test header to be forwarded")
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := newTestTransport(clock.NewFake(epoch))

	resp, err := tr.Send(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Header: http.Header{"X-Test": []string{"yes"}},
		Body:   []byte(`{"name":"t"}`),
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("Unexpected response %d %s", resp.StatusCode, resp.Body)
	}

	if gotBody != `{"name":"t"}` {
		t.Errorf("Expected body to be sent, got %s", gotBody)
	}
}

func TestSend_NonRetryableStatusesAttemptOnce(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrAuthExpired},
		{http.StatusNotFound, ErrAPI},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server, calls := scriptedServer(t, tt.status)
			tr := newTestTransport(clock.NewFake(epoch))

			_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}

			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.status {
				t.Errorf("Expected StatusError with %d, got %v", tt.status, err)
			}

			if *calls != 1 {
				t.Errorf("Expected exactly 1 attempt, got %d", *calls)
			}
		})
	}
}

func TestSend_BadRequestCarriesDetail(t *testing.T) {
	server, _ := scriptedServer(t, http.StatusBadRequest)
	tr := newTestTransport(clock.NewFake(epoch))

	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}

	if statusErr.Detail != `{"error":"status body"}` {
		t.Errorf("Expected body detail, got '%s'", statusErr.Detail)
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	server, calls := scriptedServer(t, 429, 429, 429, 200)
	clk := clock.NewFake(epoch)
	tr := newTestTransport(clk)

	resp, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if *calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", *calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	sleeps := clk.Sleeps()
	if len(sleeps) != len(want) {
		t.Fatalf("Expected backoff %v, got %v", want, sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("Backoff %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}

	if elapsed := clk.Now().Sub(epoch); elapsed != 7*time.Second {
		t.Errorf("Expected 7s elapsed, got %v", elapsed)
	}
}

func TestSend_ExhaustsRetries(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusBadGateway, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server, calls := scriptedServer(t, tt.status)
			tr := newTestTransport(clock.NewFake(epoch))

			_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}

			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.status {
				t.Errorf("Expected final status %d, got %v", tt.status, err)
			}

			if *calls != 4 {
				t.Errorf("Expected 4 attempts, got %d", *calls)
			}
		})
	}
}

func TestSend_NetworkErrorUnwraps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	clk := clock.NewFake(epoch)
	tr := newTestTransport(clk)

	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: target})

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected NetworkError, got %v", err)
	}

	if netErr.Attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", netErr.Attempts)
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Errorf("Expected NetworkError to unwrap to *url.Error, got %T", netErr.Err)
	}

	if len(clk.Sleeps()) != 3 {
		t.Errorf("Expected 3 backoff sleeps, got %v", clk.Sleeps())
	}
}

func TestSend_ZeroRetries(t *testing.T) {
	server, calls := scriptedServer(t, http.StatusServiceUnavailable)
	clk := clock.NewFake(epoch)

	policy := config.RetryPolicy{MaxRetries: 0, BaseDelayMs: 1000, TimeoutSec: 5}
	tr := New(policy, ratelimit.New(time.Second, clk), nil).WithClock(clk)

	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
	if !errors.Is(err, ErrServerError) {
		t.Errorf("Expected ErrServerError, got %v", err)
	}

	if *calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", *calls)
	}
}

func TestSend_SpacesAttemptsThroughLimiter(t *testing.T) {
	server, _ := scriptedServer(t, http.StatusOK)
	clk := clock.NewFake(epoch)
	tr := newTestTransport(clk)

	for i := 0; i < 3; i++ {
		if _, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: server.URL}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	if elapsed := clk.Now().Sub(epoch); elapsed != 2*time.Second {
		t.Errorf("Expected three calls to span 2s, got %v", elapsed)
	}
}

func TestSend_MalformedRequestIsNotRetried(t *testing.T) {
	clk := clock.NewFake(epoch)
	tr := newTestTransport(clk)

	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, URL: "http://[::1"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Expected ErrInvalidRequest, got %v", err)
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		t.Errorf("Expected no NetworkError for a request that was never sent, got %v", err)
	}

	if len(clk.Sleeps()) != 0 {
		t.Errorf("Expected no backoff, got %v", clk.Sleeps())
	}
}

// failingCloseBody reads normally but fails on Close.
type failingCloseBody struct {
	io.Reader
}

func (failingCloseBody) Close() error { return errors.New("close failed") }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSend_CloseErrorAfterReadIsIgnored(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{},
			Body:       failingCloseBody{Reader: strings.NewReader(`{"data":{"id":1}}`)},
		}, nil
	})}

	clk := clock.NewFake(epoch)
	tr := newTestTransport(clk).WithHTTPClient(client)

	resp, err := tr.Send(context.Background(), &Request{Method: http.MethodPost, URL: "https://note.test/api", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if string(resp.Body) != `{"data":{"id":1}}` {
		t.Errorf("Unexpected body %s", resp.Body)
	}

	if calls != 1 {
		t.Errorf("Expected POST to be sent once, got %d", calls)
	}
}
