// Package upstream is the HTTP client for the AI completion API the
// shield fronts. It speaks a chat-completions-style JSON protocol,
// authenticates with a borrowed credential, maps status codes to typed
// errors, and retries rate limits with jittered exponential backoff.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/keys"
)

// Request is one completion call.
type Request struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Usage reports the token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a finished completion.
type Response struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// apiError is the upstream's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the completion API.
type Client struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	backoff      keys.BackoffPolicy
	logger       *slog.Logger
	timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default pooled client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBackoff overrides the rate-limit retry schedule.
func WithBackoff(p keys.BackoffPolicy) Option {
	return func(cl *Client) { cl.backoff = p }
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// New builds a client from the upstream configuration.
func New(cfg config.UpstreamConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream: base URL is required")
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		backoff: keys.DefaultBackoff,
		logger:  slog.Default().With("component", "upstream"),
		timeout: cfg.Timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete calls the completion endpoint with the given credential.
// Rate-limited attempts are retried with backoff up to the policy's
// attempt cap; all other errors return immediately so the caller's
// retry and circuit-breaker layers stay in charge.
func (c *Client) Complete(ctx context.Context, req *Request, key *keys.Key) (*Response, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("upstream: prompt is required")
	}
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= keys.MaxBackoffAttempts; attempt++ {
		resp, err := c.doOnce(ctx, body, key)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}

		delay := c.backoff.Delay(attempt)
		if rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		c.logger.Debug("rate limited, backing off",
			"key_id", key.ID(), "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("upstream: rate-limit retries exhausted: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, body []byte, key *keys.Key) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key.Secret())

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &TimeoutError{Timeout: c.timeout}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &ParseError{Cause: err}
		}
		return &resp, nil

	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
			Message:    errorMessage(raw),
		}

	case httpResp.StatusCode == http.StatusUnauthorized,
		httpResp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{KeyID: key.ID(), StatusCode: httpResp.StatusCode}

	case httpResp.StatusCode == http.StatusRequestTimeout,
		httpResp.StatusCode == http.StatusGatewayTimeout:
		return nil, &TimeoutError{Timeout: c.timeout}

	default:
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: errorMessage(raw)}
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter handles the delay-seconds form of Retry-After. The
// HTTP-date form is rare on API rate limits and falls back to zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func errorMessage(raw []byte) string {
	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := string(raw)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
