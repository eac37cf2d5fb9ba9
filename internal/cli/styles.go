// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for palaver commands.
//
// Colors are disabled for non-TTY output and honour NO_COLOR and
// FORCE_COLOR (see terminal.go).

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/util"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	HighlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))
)

// Chat transcript styles.
var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)

	selectedMarker = HighlightStyle.Render("*")
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule, 70 columns unless width is given.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderStatus renders a bracketed status tag.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "yes", "active":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "no":
		return ErrorStyle.Render("[--]")
	case "warn", "pending":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel renders a fixed-width field label.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderKV renders "label  value" on one line.
func RenderKV(label, value string) string {
	return RenderLabel(label) + ValueStyle.Render(value)
}

// RoleLabel renders the speaker tag for a transcript line.
func RoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return userStyle.Render(role.DisplayName())
	case model.RoleAssistant:
		return assistantStyle.Render(role.DisplayName())
	default:
		return DimStyle.Render(role.DisplayName())
	}
}

// conversationLine renders one row of a conversation listing.
func conversationLine(conv model.Conversation, selected bool, width int) string {
	marker := " "
	if selected {
		marker = selectedMarker
	}
	title := conv.Title
	if title == "" {
		title = model.DefaultTitle
	}
	meta := DimStyle.Render(conv.UpdatedAt.Local().Format("Jan 02 15:04"))
	count := DimStyle.Render(util.PadWidth(itoa(conv.MessageCount())+" msgs", 8))
	avail := width - 2 - 12 - 8 - 13
	if avail < 10 {
		avail = 10
	}
	return marker + " " + DimStyle.Render(shortID(conv.ID)) + "  " +
		util.PadWidth(util.TruncateWidth(title, avail), avail) + " " + count + " " + meta
}
