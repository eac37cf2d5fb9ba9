// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Examples:
//
//	palaver                       Continue the selected conversation
//	palaver chat --new            Start a fresh conversation
//	palaver chat 3f9a1b2c         Continue a conversation by id
//
// Interactive commands:
//
//	/new [title]      Start a new conversation
//	/list             List conversations
//	/switch <id>      Switch conversation (id, prefix or list number)
//	/delete [id]      Delete a conversation (default: current)
//	/model [id]       Show or select the model
//	/models [remote]  List models
//	/regen            Regenerate the last answer
//	/history          Show the current conversation
//	/status           Show backend, model and conversation
//	/help             Show this help
//	/quit             Exit (also Ctrl+D)
//
// Ctrl+C cancels a response that is being generated.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/config"
	"github.com/jeranaias/palaver/internal/model"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor whose history lives in the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// SetCompleter completes slash commands.
func (c *ChatCLI) SetCompleter(words []string) {
	c.line.SetCompleter(func(line string) []string {
		if !strings.HasPrefix(line, "/") {
			return nil
		}
		var out []string
		for _, w := range words {
			if strings.HasPrefix(w, line) {
				out = append(out, w)
			}
		}
		return out
	})
}

// ReadInput reads one line, recording non-empty input in the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history (0600) and restores the terminal.
func (c *ChatCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// COMMAND
// =============================================================================

func (r *runner) chatCommand() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "chat [conversation]",
		Short: "Start an interactive chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			if fresh {
				ref = newConversationRef
			}
			return r.runChat(cmd.Context(), ref)
		},
	}
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new conversation")
	return cmd
}

const newConversationRef = "\x00new"

func (r *runner) runChat(ctx context.Context, ref string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !IsTTY() {
		return &CommandError{
			Code: ExitUsageError,
			Err:  ErrNoTTY,
			Hint: "use 'palaver ask' for non-interactive use",
		}
	}

	// Ctrl+C cancels the current turn, not the session.
	base := context.WithoutCancel(ctx)
	return r.withApp(base, func(ctx context.Context, app *App) error {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		app.WatchCredentials(watchCtx)

		s := &chatSession{r: r, app: app}
		if err := s.open(ref); err != nil {
			return err
		}

		input := NewChatCLI()
		defer input.Close()
		input.SetCompleter(slashCommandNames())

		s.printWelcome()
		return s.loop(ctx, input)
	})
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is one REPL run over an app.
type chatSession struct {
	r      *runner
	app    *App
	convID string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// open picks the conversation to continue: ref, the selected one, the
// newest, or a new one.
func (s *chatSession) open(ref string) error {
	st := s.app.Store
	switch {
	case ref == newConversationRef:
		s.convID = st.CreateConversation("").ID
	case ref != "":
		conv, err := resolveConversation(st, ref)
		if err != nil {
			return err
		}
		s.convID = conv.ID
	default:
		if _, ok := st.Conversation(st.SelectedConversationID()); ok {
			s.convID = st.SelectedConversationID()
		} else if convs := st.Conversations(); len(convs) > 0 {
			s.convID = convs[0].ID
		} else {
			s.convID = st.CreateConversation("").ID
		}
	}
	st.SelectConversation(s.convID)
	return nil
}

func (s *chatSession) loop(ctx context.Context, input *ChatCLI) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			s.cancelTurn()
		}
	}()

	for {
		line, err := input.ReadInput(promptStyle.Render("palaver> "))
		if err != nil {
			// Ctrl+C at the prompt and Ctrl+D both end the session.
			fmt.Fprintln(s.r.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.handleSlash(ctx, line)
			if err != nil {
				DisplayError(s.r.err, err)
			}
			if quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}
		if err := s.send(ctx, func(ctx context.Context) error {
			return s.app.Engine.SendMessage(ctx, s.convID, line)
		}); err != nil {
			DisplayError(s.r.err, err)
		}
	}
}

func (s *chatSession) cancelTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		fmt.Fprintln(s.r.err, "\n"+WarningStyle.Render("[Cancelled]"))
	}
}

// send runs one turn, printing fragments as they arrive.
func (s *chatSession) send(ctx context.Context, run func(context.Context) error) error {
	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	fmt.Fprintln(s.r.out, RoleLabel(model.RoleAssistant))
	printed, stop, err := s.r.printFragments(ctx, s.app.Events, s.convID, false)
	if err != nil {
		return err
	}
	err = run(turnCtx)
	stop()
	<-printed
	if err != nil {
		return err
	}

	if msg := s.app.Engine.Error(); msg != "" {
		conv, _ := s.app.Store.Conversation(s.convID)
		last, _ := conv.LastMessage()
		fmt.Fprintln(s.r.out, WarningStyle.Render(last.Content))
		return errors.New(msg)
	}
	fmt.Fprintln(s.r.out)
	return nil
}

func (s *chatSession) printWelcome() {
	if s.r.opts.Quiet {
		return
	}
	conv, _ := s.app.Store.Conversation(s.convID)
	fmt.Fprintln(s.r.out, TitleStyle.Render("palaver")+" "+DimStyle.Render(Version))
	fmt.Fprintln(s.r.out, RenderKV("Backend:", s.app.Backend().String()))
	fmt.Fprintln(s.r.out, RenderKV("Model:", s.app.Store.SelectedModel().DisplayName()))
	fmt.Fprintln(s.r.out, RenderKV("Conversation:", conv.Title+" "+DimStyle.Render("("+shortID(conv.ID)+")")))
	fmt.Fprintln(s.r.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.r.out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type slashCommand struct {
	name  string
	alias string
	args  string
	help  string
}

var slashCommands = []slashCommand{
	{"/new", "/n", "[title]", "Start a new conversation"},
	{"/list", "/l", "", "List conversations"},
	{"/switch", "/s", "<id>", "Switch to another conversation"},
	{"/delete", "", "[id]", "Delete a conversation (default: current)"},
	{"/model", "/m", "[id]", "Show or select the model"},
	{"/models", "", "[remote]", "List models"},
	{"/regen", "/r", "", "Regenerate the last answer"},
	{"/history", "", "", "Show the current conversation"},
	{"/status", "", "", "Show backend, model and conversation"},
	{"/help", "/h", "", "Show this help"},
	{"/quit", "/q", "", "Exit"},
}

func slashCommandNames() []string {
	names := make([]string, 0, len(slashCommands))
	for _, c := range slashCommands {
		names = append(names, c.name)
	}
	return names
}

// handleSlash runs a slash command. quit is true when the session should
// end.
func (s *chatSession) handleSlash(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	st := s.app.Store
	out := s.r.out

	switch name {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		for _, c := range slashCommands {
			usage := strings.TrimSpace(c.name + " " + c.args)
			if c.alias != "" {
				usage += ", " + c.alias
			}
			fmt.Fprintf(out, "  %s %s\n", HighlightStyle.Render(fmt.Sprintf("%-20s", usage)), c.help)
		}
		return false, nil

	case "/new", "/n":
		conv := st.CreateConversation(rest)
		s.convID = conv.ID
		s.app.Engine.ClearError()
		fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("New conversation"), DimStyle.Render(shortID(conv.ID)))
		return false, s.app.Engine.Persist(ctx)

	case "/list", "/l":
		convs := st.Conversations()
		if len(convs) == 0 {
			fmt.Fprintln(out, DimStyle.Render("No conversations."))
		}
		width := GetTerminalWidth()
		for i, conv := range convs {
			fmt.Fprintf(out, "%2d %s\n", i+1, conversationLine(conv, conv.ID == s.convID, width-3))
		}
		return false, nil

	case "/switch", "/s":
		if len(args) == 0 {
			return false, usageError("usage: /switch <id>")
		}
		conv, err := resolveConversation(st, args[0])
		if err != nil {
			return false, err
		}
		s.convID = conv.ID
		st.SelectConversation(conv.ID)
		fmt.Fprintf(out, "Switched to %s %s\n", conv.Title, DimStyle.Render(shortID(conv.ID)))
		return false, nil

	case "/delete":
		target := s.convID
		if len(args) > 0 {
			conv, err := resolveConversation(st, args[0])
			if err != nil {
				return false, err
			}
			target = conv.ID
		}
		st.DeleteConversation(target)
		if target == s.convID {
			if err := s.open(""); err != nil {
				return false, err
			}
		}
		fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Deleted"), DimStyle.Render(shortID(target)))
		return false, s.app.Engine.Persist(ctx)

	case "/model", "/m":
		if len(args) == 0 {
			fmt.Fprintln(out, RenderKV("Model:", st.SelectedModel().String()))
			return false, nil
		}
		m, ok := model.FindModel(st.AvailableModels(), args[0])
		if !ok {
			return false, ErrNotFound("model", args[0])
		}
		st.SetSelectedModel(m)
		fmt.Fprintln(out, RenderKV("Model:", m.String()))
		return false, nil

	case "/models":
		if len(args) > 0 && args[0] == "remote" {
			models, err := s.app.ListModels(ctx)
			if err != nil {
				return false, err
			}
			st.SetAvailableModels(models)
		}
		current := st.SelectedModel().ID
		for _, m := range st.AvailableModels() {
			marker := " "
			if m.ID == current {
				marker = selectedMarker
			}
			fmt.Fprintf(out, "%s %s\n", marker, m.String())
		}
		return false, nil

	case "/regen", "/r":
		conv, _ := st.Conversation(s.convID)
		if conv.MessageCount() < 2 || conv.LastUserMessageIndex() < 0 {
			return false, usageError("nothing to regenerate yet")
		}
		return false, s.send(ctx, func(ctx context.Context) error {
			return s.app.Engine.RegenerateLastResponse(ctx, s.convID)
		})

	case "/history":
		conv, _ := st.Conversation(s.convID)
		printTranscript(out, conv, false)
		return false, nil

	case "/status":
		conv, _ := st.Conversation(s.convID)
		fmt.Fprintln(out, RenderKV("Backend:", s.app.Backend().String()))
		fmt.Fprintln(out, RenderKV("Model:", st.SelectedModel().String()))
		fmt.Fprintln(out, RenderKV("Conversation:", conv.Title+" ("+shortID(conv.ID)+")"))
		fmt.Fprintln(out, RenderKV("Messages:", itoa(conv.MessageCount())))
		if e := s.app.Engine.Error(); e != "" {
			fmt.Fprintln(out, RenderKV("Last error:", e))
		}
		return false, nil
	}

	return false, usageError("unknown command %s (try /help)", name)
}
