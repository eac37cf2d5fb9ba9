// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// MODEL TYPE
// =============================================================================

// Model describes a selectable LLM. Models are immutable values.
type Model struct {
	// ID is the model identifier used in API calls
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// OwnedBy identifies the vendor (openai, anthropic, google, deepseek, ...)
	OwnedBy string `json:"owned_by"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description,omitempty"`

	// Capabilities is an optional list of capability tags
	Capabilities []string `json:"capabilities,omitempty"`
}

// DisplayName returns Name, falling back to the ID.
func (m Model) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// String formats the model for one-line listings.
func (m Model) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", m.DisplayName(), m.ID)
	if m.OwnedBy != "" {
		fmt.Fprintf(&b, " [%s]", m.OwnedBy)
	}
	if m.Description != "" {
		fmt.Fprintf(&b, " - %s", m.Description)
	}
	return b.String()
}

// =============================================================================
// HOSTED GATEWAY CATALOGUE
// =============================================================================

// HostedModels is the catalogue offered through the hosted gateway. The
// first entry is the initial selection.
var HostedModels = []Model{
	{ID: "gpt-4o", Name: "GPT-4o", OwnedBy: "openai", Description: "Most capable OpenAI model"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", OwnedBy: "openai", Description: "Faster, more affordable GPT-4"},
	{ID: "claude-3-5-sonnet", Name: "Claude 3.5 Sonnet", OwnedBy: "anthropic", Description: "Balanced performance and speed"},
	{ID: "claude-3-5-haiku", Name: "Claude 3.5 Haiku", OwnedBy: "anthropic", Description: "Fast and efficient"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", OwnedBy: "google", Description: "Google's latest fast model"},
	{ID: "deepseek-chat", Name: "DeepSeek Chat", OwnedBy: "deepseek", Description: "General conversation model"},
	{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", OwnedBy: "deepseek", Description: "Enhanced reasoning capabilities"},
}

// DefaultModel returns the initial model selection.
func DefaultModel() Model {
	return HostedModels[0]
}

// HostedCatalogue returns a copy of the hosted catalogue.
func HostedCatalogue() []Model {
	out := make([]Model, len(HostedModels))
	copy(out, HostedModels)
	return out
}

// FindModel looks up a model by ID in the given list.
func FindModel(models []Model, id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
