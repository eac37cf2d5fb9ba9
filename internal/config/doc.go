// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for palaver.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - GatewayConfig, OpenWebUIConfig: backend settings
//   - ChatConfig: turn timeout and failure text
//   - StorageConfig: persistence backend and encryption
//   - Duration: time.Duration read and written as "30s"
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PALAVER_*)
//   - $PALAVER_HOME/config.toml (default ~/.palaver)
//   - $PALAVER_HOME/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := cfg.StorageOptions()
package config
