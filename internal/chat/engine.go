// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/metrics"
	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrEmptyMessage is returned when the text to send is blank.
var ErrEmptyMessage = errors.New("message is empty")

// DefaultErrorMessage replaces the assistant placeholder when a turn fails.
const DefaultErrorMessage = "Sorry, an error occurred. Please try again."

const persistTimeout = 10 * time.Second

// ConversationSaver persists the conversation list after each turn.
type ConversationSaver interface {
	Save(ctx context.Context, convs []model.Conversation) error
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs chat turns: it records the user message, asks the backend
// selected from the current credentials, and writes the answer into the
// trailing assistant message. One turn runs at a time process-wide.
type Engine struct {
	state   State
	creds   credentials.Provider
	factory transport.Factory

	repo    ConversationSaver
	events  *Events
	metrics *metrics.Metrics
	log     zerolog.Logger

	turnTimeout  time.Duration
	errorMessage string

	mu      sync.Mutex
	lastErr string

	// persistMu orders snapshots with their saves so an older snapshot
	// never lands after a newer one.
	persistMu sync.Mutex
}

// NewEngine creates an engine over state. Adapters are built per turn from
// a fresh credential snapshot.
func NewEngine(state State, creds credentials.Provider, factory transport.Factory) *Engine {
	return &Engine{
		state:        state,
		creds:        creds,
		factory:      factory,
		log:          zerolog.Nop(),
		errorMessage: DefaultErrorMessage,
	}
}

// WithRepository persists conversations after every turn.
func (e *Engine) WithRepository(repo ConversationSaver) *Engine {
	e.repo = repo
	return e
}

// WithEvents publishes turn events on bus.
func (e *Engine) WithEvents(bus *Events) *Engine {
	e.events = bus
	return e
}

// WithMetrics records turn metrics.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(log zerolog.Logger) *Engine {
	e.log = log
	return e
}

// WithTurnTimeout bounds each backend call. Zero means no deadline.
func (e *Engine) WithTurnTimeout(d time.Duration) *Engine {
	e.turnTimeout = d
	return e
}

// WithErrorMessage overrides the text written when a turn fails.
func (e *Engine) WithErrorMessage(msg string) *Engine {
	if msg != "" {
		e.errorMessage = msg
	}
	return e
}

// State returns the state the engine works on.
func (e *Engine) State() State {
	return e.state
}

// Events returns the event bus, or nil.
func (e *Engine) Events() *Events {
	return e.events
}

// Error returns the message of the last failed turn, or "".
func (e *Engine) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ClearError resets the error signal.
func (e *Engine) ClearError() {
	e.setError("")
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}

// =============================================================================
// TURNS
// =============================================================================

// turn carries the bookkeeping for one SendMessage call.
type turn struct {
	convID    string
	modelID   string
	backend   string
	fragments int
	started   time.Time
	err       error
}

// SendMessage sends text as a user message in convID and fills in the
// assistant reply. Blank text returns ErrEmptyMessage. If another turn is in
// flight the call does nothing and returns nil. Backend failures are not
// returned: the reply becomes the error message and Error reports the cause.
func (e *Engine) SendMessage(ctx context.Context, convID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !e.state.TryBeginStreaming() {
		e.log.Debug().Str("conversation", convID).Msg("turn already in flight, ignoring send")
		return nil
	}
	e.sendClaimed(ctx, convID, text)
	return nil
}

// sendClaimed runs a turn once the caller holds the streaming flag. The flag
// is released by finish.
func (e *Engine) sendClaimed(ctx context.Context, convID, text string) {
	t := &turn{convID: convID, started: time.Now()}
	defer e.finish(t)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("backend panic: %v", r)
			e.state.ReplaceLastMessageContent(convID, e.errorMessage)
			e.setError(t.err.Error())
		}
	}()

	e.metrics.SetStreaming(true)
	e.setError("")

	var history []model.Message
	if conv, ok := e.state.Conversation(convID); ok {
		history = conv.Messages
	}

	user := model.NewUserMessage(text)
	e.state.AppendMessage(convID, user)
	if len(history) == 0 {
		e.state.SetTitle(convID, model.DeriveTitle(text))
	}

	selected := e.state.SelectedModel()
	t.modelID = selected.ID
	e.state.AppendMessage(convID, model.NewAssistantPlaceholder(selected.ID))
	e.state.ClearStreamingScratch()

	adapter := transport.Select(e.creds.Snapshot(), e.factory)
	t.backend = adapter.Kind.String()

	e.log.Info().
		Str("conversation", convID).
		Str("backend", t.backend).
		Str("model", t.modelID).
		Msg("turn started")
	e.events.Publish(Event{Kind: EventTurnStarted, ConversationID: convID, Backend: t.backend, Model: t.modelID})

	callCtx := ctx
	if e.turnTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.turnTimeout)
		defer cancel()
	}

	msgs := transport.FromModel(append(history, user))
	if adapter.Streaming() {
		t.err = e.stream(callCtx, t, adapter.Streamer, msgs)
	} else {
		t.err = e.complete(callCtx, t, adapter.Chatter, msgs)
	}

	if t.err != nil {
		e.state.ReplaceLastMessageContent(convID, e.errorMessage)
		e.setError(t.err.Error())
	}
}

// complete runs a non-streaming call and writes the reply in one mutation.
func (e *Engine) complete(ctx context.Context, t *turn, c transport.Chatter, msgs []transport.Message) error {
	if c == nil {
		return fmt.Errorf("%s backend has no chat client", t.backend)
	}
	resp, err := c.Chat(ctx, t.modelID, msgs)
	if err != nil {
		return err
	}
	e.state.ReplaceLastMessageContent(t.convID, resp.Content())
	return nil
}

// stream applies each fragment as it arrives: the scratch buffer grows by
// the fragment and the placeholder is rewritten with the running total.
func (e *Engine) stream(ctx context.Context, t *turn, s transport.Streamer, msgs []transport.Message) error {
	st, err := s.StreamChat(ctx, t.modelID, msgs)
	if err != nil {
		return err
	}
	defer st.Close()

	var full strings.Builder
	for {
		frag, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		full.WriteString(frag)
		t.fragments++
		e.state.AppendStreamingScratch(frag)
		e.state.ReplaceLastMessageContent(t.convID, full.String())
		e.events.Publish(Event{
			Kind:           EventFragment,
			ConversationID: t.convID,
			Backend:        t.backend,
			Text:           frag,
			Content:        full.String(),
		})
	}
}

// finish always runs at the end of a claimed turn.
func (e *Engine) finish(t *turn) {
	e.state.SetStreaming(false)
	e.state.ClearStreamingScratch()
	e.metrics.SetStreaming(false)

	// The caller's context may already be cancelled; the save must not be.
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := e.Persist(saveCtx); err != nil {
		e.log.Error().Err(err).Msg("save conversations")
	}
	cancel()

	var content string
	if conv, ok := e.state.Conversation(t.convID); ok {
		if last, ok := conv.LastMessage(); ok {
			content = last.Content
		}
	}

	duration := time.Since(t.started)
	ev := Event{ConversationID: t.convID, Backend: t.backend, Model: t.modelID, Content: content}
	if t.err != nil {
		ev.Kind = EventTurnFailed
		ev.Error = t.err.Error()
		e.metrics.RecordTurn(t.backend, metrics.OutcomeFailed, t.fragments, duration)
		e.log.Warn().
			Err(t.err).
			Str("conversation", t.convID).
			Str("backend", t.backend).
			Int("fragments", t.fragments).
			Dur("duration", duration).
			Msg("turn failed")
	} else {
		ev.Kind = EventTurnCompleted
		e.metrics.RecordTurn(t.backend, metrics.OutcomeCompleted, t.fragments, duration)
		e.log.Info().
			Str("conversation", t.convID).
			Str("backend", t.backend).
			Int("fragments", t.fragments).
			Dur("duration", duration).
			Msg("turn completed")
	}
	e.events.Publish(ev)
}

// Persist saves the conversation list through the repository, if one is
// configured, and refreshes the conversation gauge.
func (e *Engine) Persist(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	convs := e.state.Conversations()
	e.metrics.SetConversations(len(convs))
	if e.repo == nil {
		return nil
	}
	return e.repo.Save(ctx, convs)
}

// RegenerateLastResponse drops the reply to the most recent user message and
// sends that message again. It does nothing while a turn is in flight, when
// the conversation has fewer than two messages, or when it has no user
// message.
func (e *Engine) RegenerateLastResponse(ctx context.Context, convID string) error {
	// The flag is claimed before the history is read so a concurrent send
	// cannot slip in between the truncation and the resend.
	if !e.state.TryBeginStreaming() {
		return nil
	}
	conv, ok := e.state.Conversation(convID)
	idx := -1
	if ok && conv.MessageCount() >= 2 {
		idx = conv.LastUserMessageIndex()
	}
	if idx < 0 {
		e.state.SetStreaming(false)
		return nil
	}
	text := strings.TrimSpace(conv.Messages[idx].Content)
	if text == "" {
		e.state.SetStreaming(false)
		return ErrEmptyMessage
	}

	e.state.TruncateMessages(convID, idx)
	e.sendClaimed(ctx, convID, text)
	return nil
}
