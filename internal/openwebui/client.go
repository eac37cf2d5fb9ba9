// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openwebui provides the self-hosted backend: an Open-WebUI server
// speaking the OpenAI chat completions protocol under /api.
package openwebui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/transport"
)

// Configuration constants for the Open-WebUI API.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 120 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// ErrEmptyResponse indicates the server answered without any choices.
var ErrEmptyResponse = errors.New("response contained no choices")

// APIError represents a non-success response from the server.
type APIError struct {
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Open-WebUI API error: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("Open-WebUI API error: %d", e.Status)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an Open-WebUI chat client. It implements transport.Chatter and
// transport.Streamer.
type Client struct {
	serverURL  string
	token      string
	api        *go_openai.Client
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the server at serverURL authenticated
// with token.
func NewClient(serverURL, token string) *Client {
	return NewClientWithHTTP(serverURL, token, &http.Client{Timeout: DefaultTimeout})
}

// NewClientWithHTTP creates a client that uses hc for every request.
func NewClientWithHTTP(serverURL, token string, hc *http.Client) *Client {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")

	cfg := go_openai.DefaultConfig(token)
	cfg.BaseURL = serverURL + "/api"
	cfg.HTTPClient = hc

	return &Client{
		serverURL:  serverURL,
		token:      token,
		api:        go_openai.NewClientWithConfig(cfg),
		httpClient: hc,
		log:        zerolog.Nop(),
	}
}

// WithLogger sets the client logger.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log
	return c
}

// ServerURL returns the normalised server URL.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Adapter returns a non-streaming transport handle for this client.
func (c *Client) Adapter() transport.Adapter {
	return transport.Adapter{Kind: transport.KindSelfHosted, Chatter: c}
}

func toOpenAI(messages []transport.Message) []go_openai.ChatCompletionMessage {
	out := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, go_openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat posts a non-streaming completion to /api/chat/completions.
func (c *Client) Chat(ctx context.Context, modelID string, messages []transport.Message) (*transport.ChatResponse, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAI(messages),
		Stream:   false,
	})
	if err != nil {
		return nil, wrapError(err)
	}
	c.log.Debug().Str("model", modelID).Dur("duration", time.Since(start)).Msg("open-webui chat")

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	out := &transport.ChatResponse{ID: resp.ID, Model: resp.Model}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, transport.Choice{
			Message:      transport.Message{Role: ch.Message.Role, Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		})
	}
	if out.Model == "" {
		out.Model = modelID
	}
	return out, nil
}

// StreamChat starts a streaming completion. Open-WebUI supports SSE
// streaming, but turn routing uses Chat for this backend.
func (c *Client) StreamChat(ctx context.Context, modelID string, messages []transport.Message) (transport.Stream, error) {
	s, err := c.api.CreateChatCompletionStream(ctx, go_openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAI(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &stream{s: s}, nil
}

// stream adapts go-openai's stream to transport.Stream.
type stream struct {
	s *go_openai.ChatCompletionStream
}

// Recv returns the next non-empty delta, or io.EOF at the end.
func (st *stream) Recv() (string, error) {
	for {
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", wrapError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

// Close releases the stream.
func (st *stream) Close() error {
	st.s.Close()
	return nil
}

// =============================================================================
// MODELS
// =============================================================================

// openWebUIModel is one entry of GET /api/models.
type openWebUIModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
	Info    *struct {
		Meta *struct {
			Description string `json:"description"`
		} `json:"meta"`
	} `json:"info,omitempty"`
}

// ListModels fetches the models the server offers. The endpoint answers
// either {"data": [...]} or a bare array; both are accepted.
func (c *Client) ListModels(ctx context.Context) ([]model.Model, error) {
	body, err := c.get(ctx, "/api/models", c.token)
	if err != nil {
		return nil, err
	}

	var raw []openWebUIModel
	var wrapped struct {
		Data []openWebUIModel `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		raw = wrapped.Data
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]model.Model, 0, len(raw))
	for _, m := range raw {
		mm := model.Model{ID: m.ID, Name: m.Name, OwnedBy: m.OwnedBy}
		if mm.Name == "" {
			mm.Name = m.ID
		}
		if m.Info != nil && m.Info.Meta != nil {
			mm.Description = m.Info.Meta.Description
		}
		models = append(models, mm)
	}
	return models, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) get(ctx context.Context, path, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorDetail(body)}
	}
	return body, nil
}

// errorDetail extracts {"detail": "..."} from an error body when present.
func errorDetail(body []byte) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	return strings.TrimSpace(string(body))
}

// wrapError converts go-openai errors into APIError so callers see the
// HTTP status regardless of which path failed.
func wrapError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Cause: err}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Status: reqErr.HTTPStatusCode, Message: errMessage(reqErr.Err), Cause: err}
	}
	return fmt.Errorf("open-webui: %w", err)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
