// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/export"
	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/transport"
)

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Backend   string `json:"backend"`
	Streaming bool   `json:"streaming"`
}

// StateResponse is returned by GET /v1/state.
type StateResponse struct {
	Streaming              bool   `json:"streaming"`
	Scratch                string `json:"scratch"`
	Error                  string `json:"error,omitempty"`
	SelectedConversationID string `json:"selected_conversation_id,omitempty"`
	SelectedModelID        string `json:"selected_model_id"`
	Backend                string `json:"backend"`
	Conversations          int    `json:"conversations"`
}

// ConversationSummary is one row of GET /v1/conversations.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TurnResponse is returned by the non-streaming message endpoints.
type TurnResponse struct {
	Conversation model.Conversation `json:"conversation"`
	Error        string             `json:"error,omitempty"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type selectModelRequest struct {
	ID string `json:"id"`
}

// errorBody writes {"error":{"message":..., "code":...}}.
func errorBody(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"code":    status,
		},
	})
}

// backendKind names the backend the next turn would use.
func (s *Server) backendKind() string {
	if s.creds == nil {
		return transport.KindHosted.String()
	}
	if transport.UseSelfHosted(s.creds.Snapshot()) {
		return transport.KindSelfHosted.String()
	}
	return transport.KindHosted.String()
}

// persist saves after a mutation made outside a turn. Failures are logged.
func (s *Server) persist(ctx context.Context) {
	if err := s.engine.Persist(ctx); err != nil {
		s.log.Error().Err(err).Msg("save conversations")
	}
}

// ============================================================================
// STATUS HANDLERS
// ============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Backend:   s.backendKind(),
		Streaming: s.state.IsStreaming(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{
		Streaming:              s.state.IsStreaming(),
		Scratch:                s.state.StreamingScratch(),
		Error:                  s.engine.Error(),
		SelectedConversationID: s.state.SelectedConversationID(),
		SelectedModelID:        s.state.SelectedModel().ID,
		Backend:                s.backendKind(),
		Conversations:          len(s.state.Conversations()),
	})
}

// handleClearError resets the engine's error signal once a client has shown
// it.
func (s *Server) handleClearError(c *gin.Context) {
	s.engine.ClearError()
	c.Status(http.StatusNoContent)
}

// ============================================================================
// MODEL HANDLERS
// ============================================================================

// handleListModels returns the selectable models. With ?remote=true the
// list is refreshed from the backend first and stored as the new
// selectable set.
func (s *Server) handleListModels(c *gin.Context) {
	if remote, _ := strconv.ParseBool(c.Query("remote")); remote {
		if s.lister == nil {
			errorBody(c, http.StatusNotImplemented, "remote model listing is not configured")
			return
		}
		models, err := s.lister.ListModels(c.Request.Context())
		if err != nil {
			errorBody(c, http.StatusBadGateway, err.Error())
			return
		}
		s.state.SetAvailableModels(models)
	}

	c.JSON(http.StatusOK, gin.H{
		"selected": s.state.SelectedModel(),
		"data":     s.state.AvailableModels(),
	})
}

func (s *Server) handleSelectModel(c *gin.Context) {
	var req selectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		errorBody(c, http.StatusBadRequest, "body must be {\"id\": \"<model id>\"}")
		return
	}
	m, ok := model.FindModel(s.state.AvailableModels(), req.ID)
	if !ok {
		errorBody(c, http.StatusNotFound, "unknown model: "+req.ID)
		return
	}
	s.state.SetSelectedModel(m)
	c.JSON(http.StatusOK, gin.H{"selected": m})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

func (s *Server) handleListConversations(c *gin.Context) {
	convs := s.state.Conversations()
	out := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		out = append(out, ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			Model:        conv.Model,
			MessageCount: conv.MessageCount(),
			Preview:      conv.Preview(80),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			errorBody(c, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	conv := s.state.CreateConversation(strings.TrimSpace(req.Title))
	s.persist(c.Request.Context())
	c.JSON(http.StatusCreated, conv)
}

// lookup resolves :id or writes a 404.
func (s *Server) lookup(c *gin.Context) (model.Conversation, bool) {
	conv, ok := s.state.Conversation(c.Param("id"))
	if !ok {
		errorBody(c, http.StatusNotFound, "conversation not found")
	}
	return conv, ok
}

func (s *Server) handleGetConversation(c *gin.Context) {
	if conv, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, conv)
	}
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	conv, ok := s.lookup(c)
	if !ok {
		return
	}
	s.state.DeleteConversation(conv.ID)
	s.persist(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// handleExportConversation renders a conversation with ?format=markdown,
// json or html (default markdown).
func (s *Server) handleExportConversation(c *gin.Context) {
	conv, ok := s.lookup(c)
	if !ok {
		return
	}
	opts := export.DefaultOptions()
	if theme := c.Query("theme"); theme != "" {
		opts.Theme = theme
	}
	exp, err := export.New(c.Query("format"), opts)
	if err != nil {
		errorBody(c, http.StatusBadRequest, fmt.Sprintf("%v (supported: %v)", err, export.Formats()))
		return
	}
	body, err := exp.Export(conv)
	if errors.Is(err, export.ErrEmptyConversation) {
		errorBody(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		errorBody(c, http.StatusInternalServerError, "export failed")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+conv.ID+exp.FileExtension()+`"`)
	c.Data(http.StatusOK, exp.MimeType(), body)
}

func (s *Server) handleSelectConversation(c *gin.Context) {
	conv, ok := s.lookup(c)
	if !ok {
		return
	}
	s.state.SelectConversation(conv.ID)
	c.JSON(http.StatusOK, gin.H{"selected_conversation_id": conv.ID})
}

// ============================================================================
// TURN HANDLERS
// ============================================================================

// handleSendMessage runs a turn. With "Accept: text/event-stream" the turn's
// events are streamed as SSE; otherwise the finished conversation is
// returned.
func (s *Server) handleSendMessage(c *gin.Context) {
	conv, ok := s.lookup(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorBody(c, http.StatusBadRequest, "body must be {\"content\": \"...\"}")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		errorBody(c, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
		return
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		errorBody(c, http.StatusRequestEntityTooLarge, "message too long")
		return
	}
	if s.state.IsStreaming() {
		errorBody(c, http.StatusConflict, "a response is already being generated")
		return
	}

	send := func(ctx context.Context) error {
		return s.engine.SendMessage(ctx, conv.ID, content)
	}
	if wantsEventStream(c) {
		s.streamTurn(c, conv.ID, send)
		return
	}
	s.runTurn(c, conv.ID, send)
}

// handleRegenerate re-runs the reply to the last user message.
func (s *Server) handleRegenerate(c *gin.Context) {
	conv, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.state.IsStreaming() {
		errorBody(c, http.StatusConflict, "a response is already being generated")
		return
	}
	if conv.LastUserMessageIndex() < 0 {
		errorBody(c, http.StatusUnprocessableEntity, "conversation has no user message to regenerate")
		return
	}

	regen := func(ctx context.Context) error {
		return s.engine.RegenerateLastResponse(ctx, conv.ID)
	}
	if wantsEventStream(c) {
		s.streamTurn(c, conv.ID, regen)
		return
	}
	s.runTurn(c, conv.ID, regen)
}

func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// runTurn runs a turn to completion and returns the conversation. The turn
// is detached from the request so a client disconnect does not abort it.
func (s *Server) runTurn(c *gin.Context, convID string, run func(context.Context) error) {
	if err := run(context.WithoutCancel(c.Request.Context())); err != nil {
		errorBody(c, http.StatusBadRequest, err.Error())
		return
	}
	conv, ok := s.state.Conversation(convID)
	if !ok {
		errorBody(c, http.StatusGone, "conversation was deleted during the turn")
		return
	}
	c.JSON(http.StatusOK, TurnResponse{Conversation: conv, Error: s.engine.Error()})
}

// streamTurn subscribes to turn events, starts the turn and relays events
// for convID as SSE until the turn ends or the client goes away.
func (s *Server) streamTurn(c *gin.Context, convID string, run func(context.Context) error) {
	bus := s.engine.Events()
	if bus == nil {
		errorBody(c, http.StatusNotImplemented, "event streaming is not configured")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	if err != nil {
		errorBody(c, http.StatusInternalServerError, err.Error())
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- run(context.WithoutCancel(ctx))
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	relay := func(ev chat.Event) bool {
		if ev.ConversationID != convID {
			return true
		}
		c.SSEvent(string(ev.Kind), ev)
		return !ev.Terminal()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			return relay(ev)
		case err := <-done:
			if err != nil {
				c.SSEvent("error", gin.H{"error": err.Error()})
				return false
			}
			// Publishing waits for the subscriber, so everything the turn
			// emitted is already buffered.
			for {
				select {
				case ev, ok := <-events:
					if !ok || !relay(ev) {
						return false
					}
				default:
					// Nothing terminal arrived: the turn never started.
					c.SSEvent("skipped", gin.H{"conversation_id": convID})
					return false
				}
			}
		case <-ctx.Done():
			return false
		}
	})
}
