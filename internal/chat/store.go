// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation store and the turn orchestrator that
// sends user messages to a backend and folds the response back into state.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// STATE INTERFACE
// =============================================================================

// State is the conversation state the orchestrator and the presentation
// layers work against. Every method is atomic with respect to the others;
// reads return copies.
type State interface {
	CreateConversation(title string) model.Conversation
	SelectConversation(id string)
	SelectedConversationID() string
	DeleteConversation(id string)
	Conversation(id string) (model.Conversation, bool)
	Conversations() []model.Conversation
	SetConversations(convs []model.Conversation)

	AppendMessage(convID string, msg model.Message)
	ReplaceLastMessageContent(convID, content string)
	TruncateMessages(convID string, n int)
	SetTitle(convID, title string)

	SelectedModel() model.Model
	SetSelectedModel(m model.Model)
	AvailableModels() []model.Model
	SetAvailableModels(models []model.Model)

	IsStreaming() bool
	SetStreaming(on bool)
	TryBeginStreaming() bool
	StreamingScratch() string
	AppendStreamingScratch(text string)
	ClearStreamingScratch()
}

// =============================================================================
// STORE
// =============================================================================

// Store is the in-memory State implementation. Conversations are ordered
// newest first. Mutations that name a missing conversation are no-ops.
type Store struct {
	mu sync.Mutex

	conversations []model.Conversation
	selectedID    string

	selectedModel   model.Model
	availableModels []model.Model

	streaming bool
	scratch   strings.Builder

	now func() time.Time
}

var _ State = (*Store)(nil)

// NewStore creates an empty store with the default model selected and the
// hosted catalogue available.
func NewStore() *Store {
	return &Store{
		conversations:   []model.Conversation{},
		selectedModel:   model.DefaultModel(),
		availableModels: model.HostedCatalogue(),
		now:             time.Now,
	}
}

// index returns the position of id, or -1. Callers hold mu.
func (s *Store) index(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation creates an empty conversation using the selected model,
// puts it first in the list and selects it.
func (s *Store) CreateConversation(title string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := model.NewConversation(title, s.selectedModel.ID)
	now := s.now()
	conv.CreatedAt, conv.UpdatedAt = now, now

	s.conversations = append([]model.Conversation{conv}, s.conversations...)
	s.selectedID = conv.ID
	return conv.Clone()
}

// SelectConversation sets the selected conversation. The empty string
// clears the selection; unknown IDs are accepted as-is.
func (s *Store) SelectConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = id
}

// SelectedConversationID returns the selected conversation ID, or "".
func (s *Store) SelectedConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// DeleteConversation removes a conversation and clears the selection if it
// pointed at it.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return
	}
	s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
	if s.selectedID == id {
		s.selectedID = ""
	}
}

// Conversation returns a copy of the conversation with the given ID.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

// Conversations returns copies of all conversations, newest first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, len(s.conversations))
	for i := range s.conversations {
		out[i] = s.conversations[i].Clone()
	}
	return out
}

// SetConversations replaces the whole list, used when hydrating from
// storage. The selection is left untouched. A conversation saved while its
// reply was still empty (the process died mid-turn) gets the failure text
// in place of the empty placeholder.
func (s *Store) SetConversations(convs []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make([]model.Conversation, len(convs))
	for i := range convs {
		conv := convs[i].Clone()
		if n := len(conv.Messages); n > 0 {
			last := &conv.Messages[n-1]
			if last.Role == model.RoleAssistant && last.Content == "" {
				last.Content = DefaultErrorMessage
			}
		}
		s.conversations[i] = conv
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage appends msg and bumps the conversation's UpdatedAt.
func (s *Store) AppendMessage(convID string, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(convID)
	if i < 0 {
		return
	}
	conv := s.conversations[i].Clone()
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = s.now()
	s.conversations[i] = conv
}

// ReplaceLastMessageContent rewrites the content of the last message.
func (s *Store) ReplaceLastMessageContent(convID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(convID)
	if i < 0 || len(s.conversations[i].Messages) == 0 {
		return
	}
	conv := s.conversations[i].Clone()
	conv.Messages[len(conv.Messages)-1].Content = content
	s.conversations[i] = conv
}

// TruncateMessages keeps only the first n messages.
func (s *Store) TruncateMessages(convID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(convID)
	if i < 0 || n < 0 || n >= len(s.conversations[i].Messages) {
		return
	}
	conv := s.conversations[i].Clone()
	conv.Messages = conv.Messages[:n]
	conv.UpdatedAt = s.now()
	s.conversations[i] = conv
}

// SetTitle sets the conversation title.
func (s *Store) SetTitle(convID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(convID)
	if i < 0 {
		return
	}
	conv := s.conversations[i].Clone()
	conv.Title = title
	s.conversations[i] = conv
}

// =============================================================================
// MODELS
// =============================================================================

// SelectedModel returns the model used for new turns.
func (s *Store) SelectedModel() model.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedModel
}

// SetSelectedModel replaces the selected model. It is not checked against
// the available list.
func (s *Store) SetSelectedModel(m model.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = m
}

// AvailableModels returns a copy of the selectable models.
func (s *Store) AvailableModels() []model.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Model, len(s.availableModels))
	copy(out, s.availableModels)
	return out
}

// SetAvailableModels replaces the selectable models.
func (s *Store) SetAvailableModels(models []model.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availableModels = make([]model.Model, len(models))
	copy(s.availableModels, models)
}

// =============================================================================
// STREAMING STATE
// =============================================================================

// IsStreaming reports whether a response is being generated.
func (s *Store) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// SetStreaming sets the streaming flag.
func (s *Store) SetStreaming(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = on
}

// TryBeginStreaming sets the streaming flag if it was clear and reports
// whether it did. Only one caller can win.
func (s *Store) TryBeginStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return false
	}
	s.streaming = true
	return true
}

// StreamingScratch returns the text accumulated for the in-flight response.
func (s *Store) StreamingScratch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scratch.String()
}

// AppendStreamingScratch appends a fragment to the scratch buffer.
func (s *Store) AppendStreamingScratch(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch.WriteString(text)
}

// ClearStreamingScratch empties the scratch buffer.
func (s *Store) ClearStreamingScratch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch.Reset()
}
