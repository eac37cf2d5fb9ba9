// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway provides the hosted multi-model gateway backend.
//
// The gateway exposes many vendors' models behind a single drivers API;
// each request names a driver derived from the model identifier.
package gateway

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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/palaver/internal/transport"
)

// Configuration constants for the gateway API.
const (
	// DefaultBaseURL is the base URL for the hosted gateway API.
	DefaultBaseURL = "https://api.puter.com"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// chatInterface is the driver interface used for completions.
	chatInterface = "puter-chat-completion"

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	userAgent = "palaver/0.1.0"
)

// Error variables for common gateway errors.
var (
	// ErrAuthFailed indicates authentication failed (invalid or expired token).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoBody indicates a streaming response arrived without a body.
	ErrNoBody = errors.New("no response body")
)

// GatewayError represents a non-success response from the gateway.
type GatewayError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("gateway API error: %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("gateway API error: %d", e.Status)
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// driverCall is the body of POST /drivers/call.
type driverCall struct {
	Interface string     `json:"interface"`
	Driver    string     `json:"driver"`
	Method    string     `json:"method"`
	Args      driverArgs `json:"args"`
}

type driverArgs struct {
	Messages []transport.Message `json:"messages"`
	Model    string              `json:"model,omitempty"`
	Stream   bool                `json:"stream,omitempty"`
}

// completeResponse covers both shapes the gateway uses for a non-streaming
// completion: the message at the top level or nested under result.
type completeResponse struct {
	ID      string `json:"id"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Result *struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"result"`
}

func (r completeResponse) content() string {
	if r.Message != nil && r.Message.Content != "" {
		return r.Message.Content
	}
	if r.Result != nil && r.Result.Message != nil {
		return r.Result.Message.Content
	}
	return ""
}

// DriverForModel maps a model identifier to the gateway driver that serves it.
func DriverForModel(modelID string) string {
	switch {
	case strings.Contains(modelID, "claude"):
		return "claude"
	case strings.Contains(modelID, "gpt"):
		return "openai-completion"
	case strings.Contains(modelID, "gemini"):
		return "google-ai"
	case strings.Contains(modelID, "deepseek"):
		return "deepseek"
	default:
		return "openai-completion"
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the hosted gateway. It implements transport.Chatter and
// transport.Streamer and is safe for concurrent use.
type Client struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	log          zerolog.Logger
}

// NewClient creates a gateway client. An empty token sends unauthenticated
// requests.
func NewClient(token string) *Client {
	return &Client{
		token:   strings.TrimSpace(token),
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		// No timeout for streaming - controlled via context
		streamClient: &http.Client{},
		log:          zerolog.Nop(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithTimeout sets the non-streaming request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithMaxRetries sets how many times a failed non-streaming request is
// retried (5xx and rate limiting only).
func (c *Client) WithMaxRetries(n int) *Client {
	if n >= 0 {
		c.maxRetries = n
	}
	return c
}

// WithLogger sets the client logger.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Adapter returns a transport handle that streams through this client.
func (c *Client) Adapter() transport.Adapter {
	return transport.Adapter{Kind: transport.KindHosted, Chatter: c, Streamer: c}
}

// setHeaders sets the required headers for gateway requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) newDriverRequest(ctx context.Context, modelID string, messages []transport.Message, stream bool) (*http.Request, error) {
	body := driverCall{
		Interface: chatInterface,
		Driver:    DriverForModel(modelID),
		Method:    "complete",
		Args: driverArgs{
			Messages: messages,
			Model:    modelID,
			Stream:   stream,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/drivers/call", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

// =============================================================================
// NON-STREAMING CHAT
// =============================================================================

// Chat performs a non-streaming completion and normalises the result.
func (c *Client) Chat(ctx context.Context, modelID string, messages []transport.Message) (*transport.ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		resp, err := c.doChat(ctx, modelID, messages)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("gateway chat retry")
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doChat(ctx context.Context, modelID string, messages []transport.Message) (*transport.ChatResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.newDriverRequest(ctx, modelID, messages, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("gateway chat")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var parsed completeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	id := parsed.ID
	if id == "" {
		id = fmt.Sprintf("puter-%d", time.Now().UnixMilli())
	}
	return &transport.ChatResponse{
		ID:    id,
		Model: modelID,
		Choices: []transport.Choice{{
			Message:      transport.Message{Role: "assistant", Content: parsed.content()},
			FinishReason: "stop",
		}},
	}, nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

// User is the account behind a gateway token.
type User struct {
	Username string `json:"username"`
	UUID     string `json:"uuid"`
	Email    string `json:"email"`
}

// WhoAmI returns the account the client's token belongs to.
func (c *Client) WhoAmI(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/whoami", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse whoami response: %w", err)
	}
	return &user, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	gwErr := &GatewayError{Status: statusCode, Body: strings.TrimSpace(string(body))}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuthFailed, gwErr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, gwErr)
	default:
		return gwErr
	}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Status >= 500 && gwErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
