// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport defines the contract between the turn orchestrator and
// the LLM backends, and picks which backend serves a turn.
package transport

import (
	"context"

	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is the role/content pair sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FromModel converts conversation messages into backend messages.
func FromModel(msgs []model.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role.String(), Content: m.Content})
	}
	return out
}

// Choice is one completion alternative.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is the normalised non-streaming response shape.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Content returns the content of the first choice, or empty string if none.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// =============================================================================
// ADAPTER INTERFACES
// =============================================================================

// Chatter performs a single non-streaming completion.
type Chatter interface {
	Chat(ctx context.Context, modelID string, messages []Message) (*ChatResponse, error)
}

// Stream yields response fragments in order. Recv returns io.EOF once the
// response is complete. A stream is finite and cannot be restarted;
// cancelling the context passed to StreamChat aborts it.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Streamer performs a streaming completion.
type Streamer interface {
	StreamChat(ctx context.Context, modelID string, messages []Message) (Stream, error)
}
