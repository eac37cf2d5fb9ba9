// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the palaver command line.
//
// Every command opens an App, which loads the configuration, opens the
// state store, hydrates credentials and saved conversations, and wires a
// chat.Engine to the hosted gateway or the Open-WebUI server.
//
// # Commands Overview
//
//   - chat: Interactive chat session (the default)
//   - ask: Single question, answer on stdout
//   - serve: HTTP API over the same store
//   - conversations: list, show, delete, clear
//   - models: list, use
//   - auth: hosted, login, token, logout, status
//   - config: show, init, path, get, set, keys
//   - version
//
// # Usage
//
//	os.Exit(cli.Execute())
//
// Tests build the tree directly and replace the network backends:
//
//	cmd := cli.NewRootCommand(cli.Options{Factory: fake})
//	cmd.SetArgs([]string{"ask", "hello"})
//	err := cmd.Execute()
//
// All commands support --json; errors map to the exit codes in errors.go.
package cli
