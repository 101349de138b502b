package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/keys"
)

func testKey(t *testing.T) *keys.Key {
	t.Helper()
	mgr := keys.NewManager(config.UpstreamConfig{
		Keys: []config.KeyConfig{
			{ID: "key-1", Secret: "secret-1", RPM: 1000, RPH: 10000, RPD: 100000},
		},
		CircuitFailureThreshold: 5,
		CircuitCooldown:         time.Minute,
	})
	k, err := mgr.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return k
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(config.UpstreamConfig{
		BaseURL:      baseURL,
		Timeout:      time.Second,
		DefaultModel: "default-model",
	}, WithBackoff(keys.BackoffPolicy{Base: time.Millisecond, Max: 5 * time.Millisecond}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

// ============================================================================
// Success path
// ============================================================================

func TestCompleteSuccess(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model

		json.NewEncoder(w).Encode(Response{
			ID:    "cmpl_1",
			Model: req.Model,
			Text:  "generated text",
			Usage: Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.Complete(context.Background(), &Request{Prompt: "hello"}, testKey(t))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != "generated text" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if gotAuth != "Bearer secret-1" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	// The default model fills in when the request names none.
	if gotModel != "default-model" {
		t.Errorf("expected default model, got %q", gotModel)
	}
}

// ============================================================================
// Error mapping
// ============================================================================

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "ok"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.Complete(context.Background(), &Request{Prompt: "hello"}, testKey(t))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != "ok" || calls != 3 {
		t.Errorf("expected success on third call, got calls=%d resp=%+v", calls, resp)
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), &Request{Prompt: "hello"}, testKey(t))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAuthErrorIsTerminal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), &Request{Prompt: "hello"}, testKey(t))
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if calls != 1 {
		t.Errorf("auth failures must not retry, got %d calls", calls)
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.KeyID != "key-1" {
		t.Errorf("expected key ID in error, got %v", err)
	}
}

func TestServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"internal"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), &Request{Prompt: "hello"}, testKey(t))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !Retryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	c := testClient(t, "http://localhost:0")
	if _, err := c.Complete(context.Background(), &Request{}, testKey(t)); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("expected 3s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0, got %s", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("expected 0 for malformed value, got %s", got)
	}
}
