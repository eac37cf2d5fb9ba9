// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page. Assistant
// replies are rendered from Markdown and sanitized; user messages are
// escaped and shown verbatim.
type HTMLExporter struct {
	options  *Options
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options:  opts,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
	}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(conv model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	name := html.EscapeString(title(conv))
	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("  <meta charset=\"UTF-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "  <title>%s</title>\n", name)
	sb.WriteString("  <meta name=\"generator\" content=\"palaver\">\n")
	fmt.Fprintf(&sb, "  <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s\">\n<div class=\"container\">\n", theme)

	fmt.Fprintf(&sb, "<header>\n  <h1>%s</h1>\n", name)
	if e.options.IncludeMetadata {
		sb.WriteString("  <div class=\"meta\">\n")
		if conv.Model != "" {
			fmt.Fprintf(&sb, "    <span><strong>Model:</strong> %s</span>\n", html.EscapeString(conv.Model))
		}
		fmt.Fprintf(&sb, "    <span><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "    <span><strong>Messages:</strong> %d</span>\n", len(conv.Messages))
		sb.WriteString("  </div>\n")
	}
	sb.WriteString("</header>\n<main>\n")

	for _, msg := range conv.Messages {
		body, err := e.renderContent(msg)
		if err != nil {
			return nil, err
		}
		role := html.EscapeString(string(msg.Role))
		fmt.Fprintf(&sb, "<section class=\"message %s\">\n  <div class=\"role\">%s", role, html.EscapeString(msg.Role.DisplayName()))
		if msg.Model != "" {
			fmt.Fprintf(&sb, " <span class=\"model\">%s</span>", html.EscapeString(msg.Model))
		}
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, " <time>%s</time>", formatShortTimestamp(msg.Timestamp))
		}
		sb.WriteString("</div>\n  <div class=\"content\">")
		sb.WriteString(body)
		sb.WriteString("</div>\n</section>\n")
	}

	sb.WriteString("</main>\n<footer>")
	fmt.Fprintf(&sb, "Exported from <strong>palaver</strong> on %s", e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</footer>\n</div>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

// renderContent turns one message body into safe HTML.
func (e *HTMLExporter) renderContent(msg model.Message) (string, error) {
	if msg.Role != model.RoleAssistant {
		return "<p>" + strings.ReplaceAll(html.EscapeString(msg.Content), "\n", "<br>\n") + "</p>", nil
	}
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(msg.Content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return e.policy.Sanitize(buf.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html; charset=utf-8"
}

const css = `  <style>
    body { margin: 0; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; line-height: 1.6; }
    body.dark { background: #1e1e2e; color: #cdd6f4; }
    body.light { background: #fafafa; color: #1e1e2e; }
    .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
    header h1 { margin-bottom: 0.25rem; }
    .meta span { margin-right: 1.5rem; opacity: 0.8; font-size: 0.9rem; }
    .message { border-radius: 8px; padding: 0.75rem 1rem; margin: 1rem 0; }
    .dark .user { background: #313244; }
    .dark .assistant { background: #181825; }
    .light .user { background: #e6ecf5; }
    .light .assistant { background: #ffffff; border: 1px solid #ddd; }
    .role { font-weight: 600; font-size: 0.85rem; margin-bottom: 0.25rem; }
    .role .model, .role time { font-weight: normal; opacity: 0.6; margin-left: 0.5rem; }
    pre { overflow-x: auto; padding: 0.75rem; border-radius: 6px; background: rgba(0,0,0,0.25); }
    code { font-family: "JetBrains Mono", Menlo, monospace; font-size: 0.9em; }
    footer { margin-top: 2rem; font-size: 0.8rem; opacity: 0.6; text-align: center; }
  </style>
`
