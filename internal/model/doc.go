// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types used throughout the application
// for representing chat conversations, messages, and model information.
//
// # Key Types
//
//   - Conversation: a chat session with ordered messages and metadata
//   - Message: single message with role, content, timestamp and model
//   - Model: an LLM identifier with display metadata
//   - Role: message role enumeration (user, assistant, system)
//
// # Usage
//
// Create a new conversation:
//
//	conv := model.NewConversation("", model.DefaultModel().ID)
//	conv.Messages = append(conv.Messages, model.NewUserMessage("Hello!"))
//	conv.Title = model.DeriveTitle("Hello!")
package model
