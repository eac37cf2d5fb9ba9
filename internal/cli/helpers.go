// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Small helpers shared by several commands.

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/model"
)

func itoa(n int) string {
	return strconv.Itoa(n)
}

// shortID is the random tail of a conversation id, enough to tell
// conversations apart in a listing.
func shortID(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

// formatDurationShort formats a duration for status lines.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// resolveConversation finds a conversation by full id, short id, unique id
// prefix, or 1-based position in the newest-first listing.
func resolveConversation(st chat.State, ref string) (model.Conversation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Conversation{}, usageError("a conversation id is required")
	}
	convs := st.Conversations()

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(convs) && len(ref) < 6 {
		return convs[n-1], nil
	}

	var matches []model.Conversation
	for _, c := range convs {
		switch {
		case c.ID == ref:
			return c, nil
		case shortID(c.ID) == ref, strings.HasPrefix(c.ID, ref), strings.HasPrefix(shortID(c.ID), ref):
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return model.Conversation{}, ErrNotFound("conversation", ref)
	case 1:
		return matches[0], nil
	default:
		return model.Conversation{}, usageError("%q matches %d conversations; use more characters", ref, len(matches))
	}
}

// =============================================================================
// MARKDOWN
// =============================================================================

var (
	mdOnce     sync.Once
	mdRenderer *glamour.TermRenderer
)

// renderMarkdown renders assistant output for the terminal. When colors are
// off, or the renderer cannot be built, the text is returned unchanged.
func renderMarkdown(text string) string {
	if !ColorsEnabled() {
		return text
	}
	mdOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
		)
		if err == nil {
			mdRenderer = r
		}
	})
	if mdRenderer == nil {
		return text
	}
	out, err := mdRenderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
