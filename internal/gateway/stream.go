// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jeranaias/palaver/internal/transport"
)

// STREAMING: line-delimited SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the largest SSE line kept in memory (64KB). Longer lines
// are read to their end and dropped like any other unparsable line.
const MaxChunkSize = 64 * 1024

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the gateway streaming response.
type StreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader yields the payload of each "data: " line. Other lines (event
// names, comments, blank separators) are skipped.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// ReadData returns the next data payload. A final line without a trailing
// newline is still returned. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadData() ([]byte, error) {
	for {
		line, err := s.readLine()
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if bytes.HasPrefix(line, dataPrefix) {
				return line[len(dataPrefix):], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads one line. A line longer than MaxChunkSize is consumed and
// returned empty so the caller skips it.
func (s *SSEReader) readLine() ([]byte, error) {
	var buf []byte
	oversized := false
	for {
		frag, err := s.reader.ReadSlice('\n')
		if !oversized {
			buf = append(buf, frag...)
			if len(buf) > MaxChunkSize {
				oversized = true
				buf = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat starts a streaming completion. The returned stream yields each
// non-empty delta in order and io.EOF after the [DONE] marker or the end of
// the body. Non-2xx responses fail before any fragment is produced.
func (c *Client) StreamChat(ctx context.Context, modelID string, messages []transport.Message) (transport.Stream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.newDriverRequest(ctx, modelID, messages, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}

	c.log.Debug().Str("model", modelID).Msg("gateway stream opened")
	return &sseStream{ctx: ctx, body: resp.Body, reader: NewSSEReader(resp.Body)}, nil
}

// sseStream implements transport.Stream over a response body.
type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *SSEReader

	partial   strings.Builder
	done      bool
	closeOnce sync.Once
}

// Recv returns the next fragment.
func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.Close()
			return "", err
		}

		data, err := s.reader.ReadData()
		if err != nil {
			s.Close()
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &StreamError{Partial: s.partial.String(), Err: err}
		}

		if bytes.Equal(data, doneMarker) {
			s.Close()
			return "", io.EOF
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}
		if content := chunk.GetContent(); content != "" {
			s.partial.WriteString(content)
			return content, nil
		}
	}
}

// Close releases the response body. Safe to call more than once.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err
}
