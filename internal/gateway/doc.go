// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway provides the hosted multi-model gateway backend.
//
// All completions go through POST {base}/drivers/call with the
// "puter-chat-completion" interface. The driver is picked from the model ID
// (claude, gpt, gemini, deepseek). Streaming responses are line-delimited
// server-sent events whose data lines carry OpenAI-style deltas and end
// with a [DONE] marker.
//
// # Usage
//
//	client := gateway.NewClient(token).WithRateLimit(2, 1)
//	stream, err := client.StreamChat(ctx, "gpt-4o", messages)
//	for {
//	    fragment, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package gateway
