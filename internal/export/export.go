// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation in one format.
type Exporter interface {
	// Export converts a conversation to the target format.
	Export(conv model.Conversation) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the Content-Type for the format.
	MimeType() string
}

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatMarkdown, FormatJSON, FormatHTML}
}

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown export format")

// ErrEmptyConversation is returned when there is nothing to export.
var ErrEmptyConversation = errors.New("conversation has no messages")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds a header with model, dates and message count.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Theme for HTML export, "light" or "dark".
	Theme string

	// Now stamps the export; tests pin it.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// New returns the exporter for a format name. "md" is accepted for
// Markdown.
func New(format string, opts *Options) (Exporter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch Format(strings.ToLower(strings.TrimSpace(format))) {
	case FormatMarkdown, "md", "":
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML, "htm":
		return NewHTMLExporter(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// Write exports conv to w.
func Write(w io.Writer, conv model.Conversation, exporter Exporter) error {
	content, err := exporter.Export(conv)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	_, err = w.Write(content)
	return err
}

// ExportToFile exports conv into opts.OutputDir and returns the file path.
// The name is derived from the title and the export time.
func ExportToFile(conv model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	filename := fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.Title),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	path := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func validate(conv model.Conversation) error {
	if len(conv.Messages) == 0 {
		return ErrEmptyConversation
	}
	if conv.CreatedAt.IsZero() {
		return fmt.Errorf("conversation %s has no creation time", conv.ID)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename makes a title safe for use in a filename on any OS.
func sanitizeFilename(s string) string {
	if runes := []rune(strings.TrimSpace(s)); len(runes) > 50 {
		s = string(runes[:50])
	} else {
		s = string(runes)
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

func title(conv model.Conversation) string {
	if strings.TrimSpace(conv.Title) == "" {
		return model.DefaultTitle
	}
	return conv.Title
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
