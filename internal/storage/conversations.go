// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredConversation is the persisted form of a conversation. Dates are
// kept as RFC 3339 strings and parsed back into times on load.
type StoredConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Model     string          `json:"model"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
	Messages  []StoredMessage `json:"messages"`
}

// StoredMessage is the persisted form of a message.
type StoredMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "user", "assistant", "system"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model,omitempty"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// CONVERSATION REPOSITORY
// =============================================================================

// ConversationRepository saves the whole conversation list under one key.
type ConversationRepository struct {
	kv  KV
	key string
}

// NewConversationRepository creates a repository on top of kv.
func NewConversationRepository(kv KV) *ConversationRepository {
	return &ConversationRepository{kv: kv, key: KeyConversations}
}

// Save persists conversations in the given order.
func (r *ConversationRepository) Save(ctx context.Context, convs []model.Conversation) error {
	stored := make([]StoredConversation, 0, len(convs))
	for _, c := range convs {
		stored = append(stored, toStored(c))
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	if err := r.kv.Set(ctx, r.key, string(raw)); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// Load returns the persisted conversations, or an empty list when nothing
// has been saved yet.
func (r *ConversationRepository) Load(ctx context.Context) ([]model.Conversation, error) {
	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []model.Conversation{}, nil
	}

	var stored []StoredConversation
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to parse conversations: %w", err)
	}

	convs := make([]model.Conversation, 0, len(stored))
	for _, sc := range stored {
		c, err := fromStored(sc)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", sc.ID, err)
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// Clear removes all persisted conversations.
func (r *ConversationRepository) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, r.key)
}

// List returns listing metadata for the persisted conversations.
func (r *ConversationRepository) List(ctx context.Context) ([]ConversationMeta, error) {
	convs, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	metas := make([]ConversationMeta, 0, len(convs))
	for _, c := range convs {
		metas = append(metas, ConversationMeta{
			ID:           c.ID,
			Title:        c.Title,
			Model:        c.Model,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: c.MessageCount(),
			Preview:      c.Preview(60),
		})
	}
	return metas, nil
}

// =============================================================================
// CONVERSION
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return t, nil
}

func toStored(c model.Conversation) StoredConversation {
	msgs := make([]StoredMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, StoredMessage{
			ID:        m.ID,
			Role:      m.Role.String(),
			Content:   m.Content,
			Timestamp: formatTime(m.Timestamp),
			Model:     m.Model,
		})
	}
	return StoredConversation{
		ID:        c.ID,
		Title:     c.Title,
		Model:     c.Model,
		CreatedAt: formatTime(c.CreatedAt),
		UpdatedAt: formatTime(c.UpdatedAt),
		Messages:  msgs,
	}
}

func fromStored(sc StoredConversation) (model.Conversation, error) {
	created, err := parseTime("createdAt", sc.CreatedAt)
	if err != nil {
		return model.Conversation{}, err
	}
	updated, err := parseTime("updatedAt", sc.UpdatedAt)
	if err != nil {
		return model.Conversation{}, err
	}

	msgs := make([]model.Message, 0, len(sc.Messages))
	for _, sm := range sc.Messages {
		ts, err := parseTime("timestamp", sm.Timestamp)
		if err != nil {
			return model.Conversation{}, fmt.Errorf("message %s: %w", sm.ID, err)
		}
		role := model.Role(sm.Role)
		if !role.Valid() {
			return model.Conversation{}, fmt.Errorf("message %s: unknown role %q", sm.ID, sm.Role)
		}
		msgs = append(msgs, model.Message{
			ID:        sm.ID,
			Role:      role,
			Content:   sm.Content,
			Timestamp: ts,
			Model:     sm.Model,
		})
	}

	title := sc.Title
	if title == "" {
		title = model.DefaultTitle
	}

	return model.Conversation{
		ID:        sc.ID,
		Title:     title,
		Model:     sc.Model,
		CreatedAt: created,
		UpdatedAt: updated,
		Messages:  msgs,
	}, nil
}
