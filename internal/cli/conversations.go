// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Manage stored conversations.
//
// Examples:
//
//	palaver conversations list
//	palaver conv show 3f9a1b2c
//	palaver conv show 2 --raw
//	palaver conv delete 3f9a1b2c
//	palaver conv clear --yes
//	palaver conv export 2 --format html -o ./exports
//	palaver conv export 3f9a1b2c > chat.md

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/export"
	"github.com/jeranaias/palaver/internal/model"
)

type conversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	Selected     bool      `json:"selected"`
}

func (r *runner) conversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "convs"},
		Short:   "List, show and delete conversations",
	}
	cmd.AddCommand(
		r.conversationsListCommand(),
		r.conversationsShowCommand(),
		r.conversationsDeleteCommand(),
		r.conversationsClearCommand(),
		r.conversationsExportCommand(),
	)
	return cmd
}

func (r *runner) conversationsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				convs := app.Store.Conversations()
				selected := app.Store.SelectedConversationID()

				out := make([]conversationSummary, 0, len(convs))
				for _, c := range convs {
					out = append(out, conversationSummary{
						ID:           c.ID,
						Title:        c.Title,
						Model:        c.Model,
						MessageCount: c.MessageCount(),
						UpdatedAt:    c.UpdatedAt,
						Selected:     c.ID == selected,
					})
				}
				return r.emit(cmd, out, func() {
					if len(convs) == 0 {
						r.info("%s\n", DimStyle.Render("No conversations yet. Start one with 'palaver chat'."))
						return
					}
					width := GetTerminalWidth()
					for i, c := range convs {
						r.printf("%2d %s\n", i+1, conversationLine(c, c.ID == selected, width-3))
					}
				})
			})
		},
	}
}

func (r *runner) conversationsShowCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				conv, err := resolveConversation(app.Store, args[0])
				if err != nil {
					return err
				}
				return r.emit(cmd, conv, func() {
					printTranscript(r.out, conv, raw)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print messages without markdown rendering")
	return cmd
}

func (r *runner) conversationsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				var deleted []string
				for _, ref := range args {
					conv, err := resolveConversation(app.Store, ref)
					if err != nil {
						return err
					}
					app.Store.DeleteConversation(conv.ID)
					deleted = append(deleted, conv.ID)
				}
				if err := app.Engine.Persist(ctx); err != nil {
					return fmt.Errorf("save conversations: %w", err)
				}
				return r.emit(cmd, map[string]any{"deleted": deleted}, func() {
					for _, id := range deleted {
						r.printf("%s %s\n", SuccessStyle.Render("Deleted"), DimStyle.Render(shortID(id)))
					}
				})
			})
		},
	}
}

func (r *runner) conversationsClearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &CommandError{
					Code: ExitUsageError,
					Err:  fmt.Errorf("refusing to delete all conversations without --yes"),
				}
			}
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				n := len(app.Store.Conversations())
				app.Store.SetConversations(nil)
				if err := app.Repo.Clear(ctx); err != nil {
					return fmt.Errorf("clear conversations: %w", err)
				}
				app.Metrics.SetConversations(0)
				return r.emit(cmd, map[string]int{"deleted": n}, func() {
					r.printf("%s %d conversation(s)\n", SuccessStyle.Render("Deleted"), n)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func (r *runner) conversationsExportCommand() *cobra.Command {
	var (
		format     string
		outputDir  string
		noMetadata bool
		theme      string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown, JSON or HTML",
		Long: `Export writes the conversation to stdout, or into a new file in the
directory given by --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			opts.IncludeMetadata = !noMetadata
			opts.Theme = theme
			opts.OutputDir = outputDir
			exp, err := export.New(format, opts)
			if err != nil {
				return usageError("%v (choose %s)", err, exportFormatNames())
			}
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				conv, err := resolveConversation(app.Store, args[0])
				if err != nil {
					return err
				}
				if outputDir == "" {
					return exportError(conv, export.Write(r.out, conv, exp))
				}
				path, err := export.ExportToFile(conv, exp, opts)
				if err != nil {
					return exportError(conv, err)
				}
				return r.emit(cmd, map[string]string{"path": path, "format": exp.MimeType()}, func() {
					r.printf("%s %s\n", SuccessStyle.Render("Exported"), path)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatMarkdown), exportFormatNames())
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "write a file into this directory instead of stdout")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "omit the metadata header")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme: dark or light")
	return cmd
}

func exportError(conv model.Conversation, err error) error {
	if errors.Is(err, export.ErrEmptyConversation) {
		return usageError("conversation %s has no messages", shortID(conv.ID))
	}
	return err
}

// printTranscript writes a conversation as a readable transcript.
// Assistant messages are rendered as markdown unless raw is set.
func printTranscript(w io.Writer, conv model.Conversation, raw bool) {
	fmt.Fprintln(w, TitleStyle.Render(conv.Title)+" "+DimStyle.Render(shortID(conv.ID)))
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d messages · created %s · updated %s",
		conv.MessageCount(),
		conv.CreatedAt.Local().Format(time.DateTime),
		conv.UpdatedAt.Local().Format(time.DateTime))))
	fmt.Fprintln(w, RenderSeparator(min(GetTerminalWidth(), 70)))

	for _, m := range conv.Messages {
		label := RoleLabel(m.Role)
		if m.Role == model.RoleAssistant && m.Model != "" {
			label += " " + DimStyle.Render(m.Model)
		}
		fmt.Fprintln(w, label)
		content := m.Content
		if m.Role == model.RoleAssistant && !raw {
			content = renderMarkdown(content)
		}
		fmt.Fprintln(w, content)
		fmt.Fprintln(w)
	}
}

func exportFormatNames() string {
	formats := export.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
