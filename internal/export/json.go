// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations as indented JSON, in the same shape
// the state store persists them, wrapped with export metadata.
type JSONExporter struct {
	options *Options
}

// jsonDocument is the exported document.
type jsonDocument struct {
	Generator    string             `json:"generator"`
	ExportedAt   time.Time          `json:"exported_at"`
	Conversation model.Conversation `json:"conversation"`
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a conversation to JSON.
func (e *JSONExporter) Export(conv model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	doc := jsonDocument{
		Generator:    "palaver",
		ExportedAt:   e.options.now().UTC(),
		Conversation: conv,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
