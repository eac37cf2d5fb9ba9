// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/metrics"
	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/transport"
)

// =============================================================================
// HELPERS
// =============================================================================

type scriptedStreamer struct {
	frags []string
	err   error
}

func (s *scriptedStreamer) StreamChat(ctx context.Context, modelID string, msgs []transport.Message) (transport.Stream, error) {
	return &scriptedStream{frags: append([]string(nil), s.frags...), err: s.err}, nil
}

type scriptedStream struct {
	frags []string
	err   error
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.frags) > 0 {
		f := s.frags[0]
		s.frags = s.frags[1:]
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type fixture struct {
	store  *chat.Store
	engine *chat.Engine
	srv    *Server
}

func newFixture(t *testing.T, streamer transport.Streamer) *fixture {
	t.Helper()
	st := chat.NewStore()
	events := chat.NewEvents(zerolog.Nop())
	t.Cleanup(func() { _ = events.Close() })

	f := transport.FactoryFuncs{
		HostedFunc: func(string) transport.Adapter {
			return transport.Adapter{Kind: transport.KindHosted, Streamer: streamer}
		},
		SelfHostedFunc: func(string, string) transport.Adapter {
			return transport.Adapter{Kind: transport.KindSelfHosted}
		},
	}
	eng := chat.NewEngine(st, credentials.Static{}, f).WithEvents(events)
	return &fixture{
		store:  st,
		engine: eng,
		srv:    New(eng, credentials.Static{}).WithVersion("test"),
	}
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

// =============================================================================
// AUTH
// =============================================================================

func TestValidateBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
		want     bool
	}{
		{"match", "secret", "secret", true},
		{"mismatch", "secret", "other", false},
		{"empty token", "", "secret", false},
		{"empty expected", "secret", "", false},
		{"prefix", "sec", "secret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateBearerToken(tt.token, tt.expected); got != tt.want {
				t.Errorf("ValidateBearerToken(%q, %q) = %v, want %v", tt.token, tt.expected, got, tt.want)
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	f.srv.WithToken("s3cret")

	if w := f.do("GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200 without a token", w.Code)
	}
	if w := f.do("GET", "/v1/state", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := f.do("GET", "/v1/state", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	if w := f.do("GET", "/v1/state", nil, "Authorization", "Bearer s3cret"); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	f.srv.WithRateLimit(0.001, 1)

	if w := f.do("GET", "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	w := f.do("GET", "/health", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	w := f.do("GET", "/health", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

// =============================================================================
// STATUS AND MODELS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	w := f.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "hosted", resp.Backend)
	assert.False(t, resp.Streaming)
}

func TestHandleState(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	conv := f.store.CreateConversation("")
	f.store.SetStreaming(true)
	f.store.AppendStreamingScratch("par")

	resp := decode[StateResponse](t, f.do("GET", "/v1/state", nil))
	assert.True(t, resp.Streaming)
	assert.Equal(t, "par", resp.Scratch)
	assert.Equal(t, conv.ID, resp.SelectedConversationID)
	assert.Equal(t, model.DefaultModel().ID, resp.SelectedModelID)
	assert.Equal(t, 1, resp.Conversations)
}

func TestHandleSelectModel(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	target := model.HostedCatalogue()[len(model.HostedCatalogue())-1]

	w := f.do("PUT", "/v1/models/selected", map[string]string{"id": target.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, target.ID, f.store.SelectedModel().ID)

	if w := f.do("PUT", "/v1/models/selected", map[string]string{"id": "no-such-model"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown model status = %d, want 404", w.Code)
	}
	if w := f.do("PUT", "/v1/models/selected", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", w.Code)
	}
}

func TestHandleListModels_Remote(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})

	if w := f.do("GET", "/v1/models?remote=true", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("remote without lister status = %d, want 501", w.Code)
	}

	f.srv.WithModelLister(ModelListerFunc(func(ctx context.Context) ([]model.Model, error) {
		return []model.Model{{ID: "llama3:8b", Name: "llama3:8b"}}, nil
	}))
	w := f.do("GET", "/v1/models?remote=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "llama3:8b", f.store.AvailableModels()[0].ID)

	f.srv.WithModelLister(ModelListerFunc(func(ctx context.Context) ([]model.Model, error) {
		return nil, errors.New("connection refused")
	}))
	if w := f.do("GET", "/v1/models?remote=true", nil); w.Code != http.StatusBadGateway {
		t.Errorf("lister failure status = %d, want 502", w.Code)
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})

	w := f.do("POST", "/v1/conversations", map[string]string{"title": "Trip plans"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[model.Conversation](t, w)
	assert.Equal(t, "Trip plans", created.Title)

	// An empty body is allowed.
	w = f.do("POST", "/v1/conversations", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[model.Conversation](t, w)

	list := decode[struct {
		Data []ConversationSummary `json:"data"`
	}](t, f.do("GET", "/v1/conversations", nil))
	require.Len(t, list.Data, 2)
	assert.Equal(t, second.ID, list.Data[0].ID, "newest first")

	w = f.do("POST", "/v1/conversations/"+created.ID+"/select", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, f.store.SelectedConversationID())

	w = f.do("GET", "/v1/conversations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("DELETE", "/v1/conversations/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	if _, ok := f.store.Conversation(created.ID); ok {
		t.Error("conversation still present after DELETE")
	}

	if w := f.do("GET", "/v1/conversations/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("GET deleted status = %d, want 404", w.Code)
	}
	if w := f.do("DELETE", "/v1/conversations/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("DELETE missing status = %d, want 404", w.Code)
	}
}

func TestExportConversation(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{frags: []string{"**hi**"}})
	conv := f.store.CreateConversation("")

	w := f.do("GET", "/v1/conversations/"+conv.ID+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "nothing to export yet")

	require.NoError(t, f.engine.SendMessage(context.Background(), conv.ID, "hello"))

	w = f.do("GET", "/v1/conversations/"+conv.ID+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), conv.ID+".md")
	assert.Contains(t, w.Body.String(), "### You")

	w = f.do("GET", "/v1/conversations/"+conv.ID+"/export?format=html&theme=light", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<strong>hi</strong>")
	assert.Contains(t, w.Body.String(), `<body class="light">`)

	w = f.do("GET", "/v1/conversations/"+conv.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "markdown json html")

	w = f.do("GET", "/v1/conversations/missing/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// TURNS
// =============================================================================

func TestSendMessage_JSON(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{frags: []string{"Hi", " there!"}})
	conv := f.store.CreateConversation("")

	w := f.do("POST", "/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "  Hello  "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[TurnResponse](t, w)
	require.Len(t, resp.Conversation.Messages, 2)
	assert.Equal(t, "Hello", resp.Conversation.Messages[0].Content)
	assert.Equal(t, "Hi there!", resp.Conversation.Messages[1].Content)
	assert.Equal(t, "Hello", resp.Conversation.Title)
	assert.Empty(t, resp.Error)
	assert.False(t, f.store.IsStreaming())
}

func TestSendMessage_FailureReportsError(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{err: errors.New("upstream 502")})
	conv := f.store.CreateConversation("")

	w := f.do("POST", "/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "Hello"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[TurnResponse](t, w)
	assert.Equal(t, chat.DefaultErrorMessage, resp.Conversation.Messages[1].Content)
	assert.Contains(t, resp.Error, "upstream 502")
}

func TestClearError(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{err: errors.New("upstream 502")})
	conv := f.store.CreateConversation("")
	require.NoError(t, f.engine.SendMessage(context.Background(), conv.ID, "Hello"))
	require.NotEmpty(t, decode[StateResponse](t, f.do("GET", "/v1/state", nil)).Error)

	w := f.do("DELETE", "/v1/state/error", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, decode[StateResponse](t, f.do("GET", "/v1/state", nil)).Error)
	assert.Empty(t, f.engine.Error())
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{frags: []string{"x"}})
	conv := f.store.CreateConversation("")
	path := "/v1/conversations/" + conv.ID + "/messages"

	if w := f.do("POST", path, map[string]string{"content": "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank content status = %d, want 400", w.Code)
	}
	if w := f.do("POST", path, map[string]string{"content": strings.Repeat("a", MaxContentLength+1)}); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized content status = %d, want 413", w.Code)
	}
	if w := f.do("POST", "/v1/conversations/missing/messages", map[string]string{"content": "hi"}); w.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d, want 404", w.Code)
	}

	f.store.SetStreaming(true)
	if w := f.do("POST", path, map[string]string{"content": "hi"}); w.Code != http.StatusConflict {
		t.Errorf("in-flight status = %d, want 409", w.Code)
	}
	f.store.SetStreaming(false)

	got, _ := f.store.Conversation(conv.ID)
	assert.Empty(t, got.Messages, "rejected sends must not touch the conversation")
}

func TestSendMessage_SSE(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{frags: []string{"Hi", " there!"}})
	conv := f.store.CreateConversation("")

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest("POST", ts.URL+"/v1/conversations/"+conv.ID+"/messages",
		strings.NewReader(`{"content":"Hello"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	started := strings.Index(text, "event:turn_started")
	first := strings.Index(text, "event:fragment")
	done := strings.Index(text, "event:turn_completed")
	require.True(t, started >= 0 && first > started && done > first, "unexpected event order:\n%s", text)
	assert.Equal(t, 2, strings.Count(text, "event:fragment"))
	assert.Contains(t, text, `"content":"Hi there!"`)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{frags: []string{"again"}})
	conv := f.store.CreateConversation("")

	if w := f.do("POST", "/v1/conversations/"+conv.ID+"/regenerate", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("regenerate with no user message status = %d, want 422", w.Code)
	}

	f.store.AppendMessage(conv.ID, model.NewUserMessage("Hello"))
	f.store.AppendMessage(conv.ID, model.Message{Role: model.RoleAssistant, Content: "first"})

	w := f.do("POST", "/v1/conversations/"+conv.ID+"/regenerate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[TurnResponse](t, w)
	require.Len(t, resp.Conversation.Messages, 2)
	assert.Equal(t, "again", resp.Conversation.Messages[1].Content)
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, &scriptedStreamer{})
	f.srv.WithMetrics(metrics.New())

	f.do("GET", "/health", nil)
	w := f.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `palaver_http_requests_total{method="GET",route="/health",status="OK"} 1`)
}
