// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openwebui provides the self-hosted backend: an Open-WebUI server
// speaking the OpenAI chat completions protocol under /api.
//
// Chat completions go through go-openai with its base URL pointed at
// {server}/api. Model listing and the account endpoints under
// /api/v1/auths are Open-WebUI specific and use plain HTTP.
package openwebui
