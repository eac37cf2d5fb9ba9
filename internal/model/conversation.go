// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New Chat"

// TitleMaxRunes is how much of the first user message becomes the title.
const TitleMaxRunes = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation with its history and metadata.
//
// Conversations are handled as values: the store hands out clones and
// replaces its own copy on every mutation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Model is the model selected when the conversation was created. It is
	// informational; turns always use the globally selected model.
	Model string `json:"model"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation(title, modelID string) Conversation {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := time.Now()
	return Conversation{
		ID:        NewConversationID(now),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Model:     modelID,
	}
}

// NewConversationID returns a conversation identifier of the form
// conv-<unix millis>-<random suffix>.
func NewConversationID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("conv-%d-%s", now.UnixMilli(), suffix)
}

// =============================================================================
// CONVERSATION METHODS
// =============================================================================

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}

// LastMessage returns the most recent message and whether there was one.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastUserMessageIndex returns the index of the most recent user message,
// or -1 when there is none.
func (c Conversation) LastUserMessageIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// Preview returns a short preview of the conversation for listings.
func (c Conversation) Preview(maxLen int) string {
	idx := c.LastUserMessageIndex()
	if idx < 0 {
		return "Empty conversation"
	}
	return c.Messages[idx].Preview(maxLen)
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// DeriveTitle builds a conversation title from the first user message: the
// first 50 runes of the trimmed text, with "..." appended when truncated.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= TitleMaxRunes {
		return text
	}
	return string(runes[:TitleMaxRunes]) + "..."
}
