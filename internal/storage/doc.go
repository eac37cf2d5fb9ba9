// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key/value persistence and the conversation
// repository for palaver.
//
// # Key Types
//
//   - KV: get/set/delete of string values by key
//   - FileKV, SQLiteKV, RedisKV: the three backends
//   - SecureKV: AES-256-GCM value encryption over any backend
//   - ConversationRepository: persists the conversation list
//
// # Usage
//
//	kv, err := storage.Open(ctx, storage.Options{Backend: "file", Dir: dir})
//	repo := storage.NewConversationRepository(kv)
//	convs, err := repo.Load(ctx)
//
// # Storage Location
//
// The file backend keeps everything in ~/.palaver/state.json; the sqlite
// backend uses ~/.palaver/palaver.db unless configured otherwise.
package storage
