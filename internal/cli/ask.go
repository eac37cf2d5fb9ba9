// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//
//	palaver ask "What is a monad?"
//	palaver ask -c 3f9a1b2c "And in Go terms?"
//	git diff | palaver ask -          (question read from stdin)

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/model"
)

type askFlags struct {
	conversation string
	raw          bool
	stream       bool
}

type askResult struct {
	ConversationID string `json:"conversation_id"`
	Backend        string `json:"backend"`
	Model          string `json:"model"`
	Answer         string `json:"answer"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
}

func (r *runner) askCommand() *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a single question and print the answer",
		Long: `Ask sends one message and prints the reply. Without --conversation a new
conversation is created and kept, so it can be continued later with
'palaver chat' or 'palaver ask -c <id>'. Use "-" to read the question
from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := r.questionText(args)
			if err != nil {
				return err
			}
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return r.runAsk(ctx, cmd, app, f, text)
			})
		},
	}
	cmd.Flags().StringVarP(&f.conversation, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "print the answer without markdown rendering")
	cmd.Flags().BoolVar(&f.stream, "stream", true, "print fragments as they arrive (hosted backend)")
	return cmd
}

func (r *runner) questionText(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(r.in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		args = []string{string(b)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", chat.ErrEmptyMessage
	}
	return text, nil
}

func (r *runner) runAsk(ctx context.Context, cmd *cobra.Command, app *App, f askFlags, text string) error {
	var conv model.Conversation
	if f.conversation != "" {
		found, err := resolveConversation(app.Store, f.conversation)
		if err != nil {
			return err
		}
		conv = found
		app.Store.SelectConversation(conv.ID)
	} else {
		conv = app.Store.CreateConversation("")
	}

	live := f.stream && !r.opts.JSON && !r.opts.Quiet
	printed, stop := closedDone(), func() {}
	if live {
		var err error
		printed, stop, err = r.printFragments(ctx, app.Events, conv.ID, f.raw)
		if err != nil {
			return err
		}
	}

	start := time.Now()
	err := app.Engine.SendMessage(ctx, conv.ID, text)
	stop()
	<-printed
	if err != nil {
		return err
	}

	final, _ := app.Store.Conversation(conv.ID)
	last, _ := final.LastMessage()
	res := askResult{
		ConversationID: conv.ID,
		Backend:        app.Backend().String(),
		Model:          app.Store.SelectedModel().ID,
		Answer:         last.Content,
		Error:          app.Engine.Error(),
		DurationMS:     time.Since(start).Milliseconds(),
	}

	err = r.emit(cmd, res, func() {
		if !live || res.Error != "" {
			if f.raw {
				r.printf("%s\n", res.Answer)
			} else {
				r.printf("%s\n", renderMarkdown(res.Answer))
			}
		}
		r.info("%s\n", DimStyle.Render(fmt.Sprintf("%s · %s · %s · %s",
			shortID(res.ConversationID), res.Backend, res.Model,
			formatDurationShort(time.Duration(res.DurationMS)*time.Millisecond))))
	})
	if err != nil {
		return err
	}
	if res.Error != "" {
		return &CommandError{Code: ExitGeneralError, Err: errors.New(res.Error)}
	}
	return nil
}

func closedDone() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// printFragments writes streamed fragments for convID to stdout as they
// arrive. Call stop once the turn has returned: publishing waits for the
// subscriber, so every event of the turn is already buffered and is still
// printed before done closes. Self-hosted turns produce no fragments; their
// answer is printed when the turn completes.
func (r *runner) printFragments(ctx context.Context, bus *chat.Events, convID string, raw bool) (done <-chan struct{}, stop func(), err error) {
	subCtx, cancel := context.WithCancel(ctx)
	events, err := bus.Subscribe(subCtx)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		streamed := false
		for ev := range events {
			if ev.ConversationID != convID {
				continue
			}
			switch ev.Kind {
			case chat.EventFragment:
				streamed = true
				fmt.Fprint(r.out, ev.Text)
			case chat.EventTurnCompleted:
				if streamed {
					fmt.Fprintln(r.out)
				} else if raw {
					fmt.Fprintln(r.out, ev.Content)
				} else {
					fmt.Fprintln(r.out, renderMarkdown(ev.Content))
				}
				return
			case chat.EventTurnFailed:
				if streamed {
					fmt.Fprintln(r.out)
				}
				return
			}
		}
	}()
	return finished, cancel, nil
}
