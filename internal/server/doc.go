// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes a chat engine over a small JSON API built on gin.
//
// # Endpoints
//
//   - GET    /health                          - Liveness, unauthenticated
//   - GET    /metrics                         - Prometheus metrics
//   - GET    /v1/state                        - Streaming flag, scratch, last error
//   - DELETE /v1/state/error                  - Clear the last error
//   - GET    /v1/models                       - Selectable models (?remote=true refreshes)
//   - PUT    /v1/models/selected              - Select a model
//   - GET    /v1/conversations                - Conversation summaries, newest first
//   - POST   /v1/conversations                - Create a conversation
//   - GET    /v1/conversations/:id            - Full conversation
//   - DELETE /v1/conversations/:id            - Delete a conversation
//   - GET    /v1/conversations/:id/export     - Markdown, JSON or HTML (?format=)
//   - POST   /v1/conversations/:id/select     - Make it the selected conversation
//   - POST   /v1/conversations/:id/messages   - Send a message and run a turn
//   - POST   /v1/conversations/:id/regenerate - Re-run the last reply
//
// The message and regenerate endpoints return the finished conversation, or
// stream turn events as SSE when the client sends
// "Accept: text/event-stream". Only one turn runs at a time; a second
// request while one is in flight gets 409.
//
// # Security
//
//   - Bearer token authentication with constant-time comparison
//   - Per-IP rate limiting
//   - Security headers and a request body cap
//
// # Usage
//
//	srv := server.New(engine, creds).
//		WithAddr(cfg.Server.Addr).
//		WithToken(cfg.Server.Token).
//		WithMetrics(m)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
