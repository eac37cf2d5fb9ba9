// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations out as Markdown, JSON or HTML.
//
// # Key Types
//
//   - Exporter: renders one conversation in one format
//   - Options: metadata, timestamps, HTML theme, output directory
//
// # Supported Formats
//
//   - Markdown: YAML frontmatter plus one section per message
//   - JSON: the stored conversation with export metadata
//   - HTML: standalone page; assistant Markdown is rendered with goldmark
//     and sanitized with bluemonday
//
// # Usage
//
//	exp, err := export.New("html", nil)
//	path, err := export.ExportToFile(conv, exp, &export.Options{OutputDir: "out"})
//
// Or stream it:
//
//	err := export.Write(os.Stdout, conv, exp)
package export
