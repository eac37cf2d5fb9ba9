// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/metrics"
	"github.com/jeranaias/palaver/internal/model"
	"github.com/jeranaias/palaver/internal/transport"
)

// =============================================================================
// FAKE TRANSPORTS
// =============================================================================

type fakeChatter struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	model   string
	got     []transport.Message
}

func (f *fakeChatter) Chat(ctx context.Context, modelID string, msgs []transport.Message) (*transport.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.model = modelID
	f.got = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &transport.ChatResponse{
		ID:      "resp-1",
		Model:   modelID,
		Choices: []transport.Choice{{Message: transport.Message{Role: "assistant", Content: f.content}, FinishReason: "stop"}},
	}, nil
}

// fakeStreamer yields frags, then err (io.EOF when nil). before runs ahead
// of each Recv with the index of the fragment about to be returned.
type fakeStreamer struct {
	frags    []string
	err      error
	startErr error
	before   func(ctx context.Context, i int) error
	got      []transport.Message
	model    string
}

func (f *fakeStreamer) StreamChat(ctx context.Context, modelID string, msgs []transport.Message) (transport.Stream, error) {
	f.got = msgs
	f.model = modelID
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &fakeStream{ctx: ctx, f: f}, nil
}

type fakeStream struct {
	ctx    context.Context
	f      *fakeStreamer
	i      int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.f.before != nil {
		if err := s.f.before(s.ctx, s.i); err != nil {
			return "", err
		}
	}
	if s.i < len(s.f.frags) {
		frag := s.f.frags[s.i]
		s.i++
		return frag, nil
	}
	if s.f.err != nil {
		return "", s.f.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// recordingStore captures every ReplaceLastMessageContent value.
type recordingStore struct {
	*Store
	mu       sync.Mutex
	replaced []string
}

func (r *recordingStore) ReplaceLastMessageContent(convID, content string) {
	r.mu.Lock()
	r.replaced = append(r.replaced, content)
	r.mu.Unlock()
	r.Store.ReplaceLastMessageContent(convID, content)
}

func (r *recordingStore) writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replaced...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saves [][]model.Conversation
	err   error
}

func (f *fakeSaver) Save(ctx context.Context, convs []model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, convs)
	return f.err
}

// slowSaver blocks its first Save until release is closed and records the
// snapshot only afterwards, like a write that lands late.
type slowSaver struct {
	mu      sync.Mutex
	saves   [][]model.Conversation
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (f *slowSaver) Save(ctx context.Context, convs []model.Conversation) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	f.saves = append(f.saves, convs)
	f.mu.Unlock()
	return nil
}

func (f *slowSaver) last() []model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

// hookStore runs a callback the first time the engine calls one of the
// hooked methods.
type hookStore struct {
	*Store
	onTryBegin     atomic.Pointer[func()]
	onConversation atomic.Pointer[func()]
}

func (h *hookStore) TryBeginStreaming() bool {
	if fn := h.onTryBegin.Swap(nil); fn != nil {
		(*fn)()
	}
	return h.Store.TryBeginStreaming()
}

func (h *hookStore) Conversation(id string) (model.Conversation, bool) {
	if fn := h.onConversation.Swap(nil); fn != nil {
		(*fn)()
	}
	return h.Store.Conversation(id)
}

func seedTwoTurns(st State, convID string) {
	st.AppendMessage(convID, model.NewUserMessage("q1"))
	st.AppendMessage(convID, model.NewMessage(model.RoleAssistant, "answer one"))
	st.AppendMessage(convID, model.NewUserMessage("q2"))
	st.AppendMessage(convID, model.NewMessage(model.RoleAssistant, "answer two"))
}

func contents(conv model.Conversation) []string {
	out := make([]string, len(conv.Messages))
	for i, m := range conv.Messages {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func factory(hosted, self transport.Adapter) transport.Factory {
	return transport.FactoryFuncs{
		HostedFunc:     func(string) transport.Adapter { return hosted },
		SelfHostedFunc: func(string, string) transport.Adapter { return self },
	}
}

func hostedAdapter(s transport.Streamer) transport.Adapter {
	return transport.Adapter{Kind: transport.KindHosted, Streamer: s}
}

func selfHostedAdapter(c transport.Chatter) transport.Adapter {
	return transport.Adapter{Kind: transport.KindSelfHosted, Chatter: c}
}

var selfHostedCreds = credentials.Static{
	SelfHostedToken:           "owui-token",
	ServerURL:                 "http://owui.local",
	IsSelfHostedAuthenticated: true,
}

func assertQuiescent(t *testing.T, st State) {
	t.Helper()
	assert.False(t, st.IsStreaming(), "streaming flag must be cleared")
	assert.Empty(t, st.StreamingScratch(), "scratch must be cleared")
	for _, conv := range st.Conversations() {
		last, ok := conv.LastMessage()
		if !ok {
			continue
		}
		assert.False(t, last.Role == model.RoleAssistant && last.Content == "",
			"conversation %s ends with an empty assistant message", conv.ID)
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestSendMessage_HostedStreaming(t *testing.T) {
	st := NewStore()
	st.SetSelectedModel(model.Model{ID: "gpt-4o-mini", Name: "GPT-4o Mini"})
	conv := st.CreateConversation("")

	streamer := &fakeStreamer{frags: []string{"Hi", " there!"}}
	chatter := &fakeChatter{content: "wrong backend"}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "Hello"))

	got, ok := st.Conversation(conv.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Hello", got.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Hi there!", got.Messages[1].Content)
	assert.Equal(t, "gpt-4o-mini", got.Messages[1].Model)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "gpt-4o-mini", streamer.model)
	assert.Zero(t, chatter.calls)
	assert.Empty(t, e.Error())
	assertQuiescent(t, st)
}

func TestSendMessage_SelfHostedSingleMutation(t *testing.T) {
	rec := &recordingStore{Store: NewStore()}
	conv := rec.CreateConversation("")

	chatter := &fakeChatter{content: "pong"}
	streamer := &fakeStreamer{frags: []string{"wrong"}}
	e := NewEngine(rec, selfHostedCreds, factory(hostedAdapter(streamer), selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "ping"))

	assert.Equal(t, []string{"pong"}, rec.writes())
	got, _ := rec.Conversation(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "pong", got.Messages[1].Content)
	assert.Equal(t, 1, chatter.calls)
	assertQuiescent(t, rec)
}

func TestSendMessage_TransportFailure(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")

	streamer := &fakeStreamer{startErr: errors.New("dial tcp: connection refused")}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "Hello"))

	got, _ := st.Conversation(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, DefaultErrorMessage, got.Messages[1].Content)
	assert.Contains(t, e.Error(), "connection refused")
	assertQuiescent(t, st)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestSendMessage_AlwaysClearsStreamingState(t *testing.T) {
	tests := []struct {
		name     string
		streamer *fakeStreamer
	}{
		{"success", &fakeStreamer{frags: []string{"a", "b"}}},
		{"start error", &fakeStreamer{startErr: errors.New("boom")}},
		{"mid-stream error", &fakeStreamer{frags: []string{"a"}, err: errors.New("reset by peer")}},
		{"panic", &fakeStreamer{before: func(context.Context, int) error { panic("bad frame") }}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore()
			conv := st.CreateConversation("")
			e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(tt.streamer), transport.Adapter{}))

			require.NoError(t, e.SendMessage(context.Background(), conv.ID, "hi"))
			assertQuiescent(t, st)
		})
	}
}

func TestSendMessage_MidStreamFailureOverwritesPartial(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	streamer := &fakeStreamer{frags: []string{"partial"}, err: errors.New("stream broke")}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "hi"))

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, DefaultErrorMessage, got.Messages[1].Content)
	assert.Equal(t, "stream broke", e.Error())
}

func TestSendMessage_FragmentOrder(t *testing.T) {
	rec := &recordingStore{Store: NewStore()}
	conv := rec.CreateConversation("")
	streamer := &fakeStreamer{frags: []string{"Hel", "lo", " world"}}
	e := NewEngine(rec, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "greet"))

	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, rec.writes())
}

func TestSendMessage_ScratchTracksFragments(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	var seen []string
	streamer := &fakeStreamer{
		frags: []string{"a", "b", "c"},
		before: func(_ context.Context, i int) error {
			seen = append(seen, st.StreamingScratch())
			return nil
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "go"))
	assert.Equal(t, []string{"", "a", "ab", "abc"}, seen)
	assert.Empty(t, st.StreamingScratch())
}

func TestSendMessage_TitleDerivation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"long", strings.Repeat("a", 60), strings.Repeat("a", 50) + "..."},
		{"short", "short", "short"},
		{"exactly fifty", strings.Repeat("b", 50), strings.Repeat("b", 50)},
		{"trimmed", "  padded  ", "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore()
			conv := st.CreateConversation("")
			streamer := &fakeStreamer{frags: []string{"ok"}}
			e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

			require.NoError(t, e.SendMessage(context.Background(), conv.ID, tt.text))
			got, _ := st.Conversation(conv.ID)
			assert.Equal(t, tt.want, got.Title)
		})
	}
}

func TestSendMessage_TitleOnlyOnFirstMessage(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	streamer := &fakeStreamer{frags: []string{"ok"}}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "first"))
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "second"))

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, "first", got.Title)
	assert.Len(t, got.Messages, 4)
}

func TestSendMessage_SingleFlight(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	other := st.CreateConversation("other")

	started := make(chan struct{})
	release := make(chan struct{})
	streamer := &fakeStreamer{
		frags: []string{"slow"},
		before: func(_ context.Context, i int) error {
			if i == 0 {
				close(started)
				<-release
			}
			return nil
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	done := make(chan error, 1)
	go func() { done <- e.SendMessage(context.Background(), conv.ID, "first") }()
	<-started

	before := st.Conversations()
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "second"))
	require.NoError(t, e.SendMessage(context.Background(), other.ID, "elsewhere"))
	assert.Equal(t, before, st.Conversations(), "concurrent sends must not touch state")
	assert.NoError(t, e.RegenerateLastResponse(context.Background(), conv.ID))
	assert.Equal(t, before, st.Conversations())

	close(release)
	require.NoError(t, <-done)

	got, _ := st.Conversation(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "slow", got.Messages[1].Content)
	assertQuiescent(t, st)
}

func TestSendMessage_DeleteMidStream(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	streamer := &fakeStreamer{
		frags: []string{"one", "two", "three"},
		before: func(_ context.Context, i int) error {
			if i == 1 {
				st.DeleteConversation(conv.ID)
			}
			return nil
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	require.NotPanics(t, func() {
		require.NoError(t, e.SendMessage(context.Background(), conv.ID, "hello"))
	})

	_, ok := st.Conversation(conv.ID)
	assert.False(t, ok, "deleted conversation must not be recreated")
	assert.Empty(t, st.Conversations())
	assert.Empty(t, st.SelectedConversationID())
	assertQuiescent(t, st)
}

func TestSendMessage_EmptyText(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(&fakeStreamer{}), transport.Adapter{}))

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, e.SendMessage(context.Background(), conv.ID, text), ErrEmptyMessage)
	}
	got, _ := st.Conversation(conv.ID)
	assert.Empty(t, got.Messages)
	assert.False(t, st.IsStreaming())
}

func TestSendMessage_HistoryExcludesPlaceholder(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	chatter := &fakeChatter{content: "first reply"}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "one"))
	chatter.content = "second reply"
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "two"))

	require.Len(t, chatter.got, 3)
	assert.Equal(t, transport.Message{Role: "user", Content: "one"}, chatter.got[0])
	assert.Equal(t, transport.Message{Role: "assistant", Content: "first reply"}, chatter.got[1])
	assert.Equal(t, transport.Message{Role: "user", Content: "two"}, chatter.got[2])
}

func TestSendMessage_ClearsPreviousError(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	chatter := &fakeChatter{err: errors.New("401 unauthorized")}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "one"))
	assert.Equal(t, "401 unauthorized", e.Error())

	chatter.err = nil
	chatter.content = "fine"
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "two"))
	assert.Empty(t, e.Error())

	e.setError("x")
	e.ClearError()
	assert.Empty(t, e.Error())
}

func TestSendMessage_SelectionFollowsCredentials(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	chatter := &fakeChatter{content: "self"}
	streamer := &fakeStreamer{frags: []string{"hosted"}}
	f := factory(hostedAdapter(streamer), selfHostedAdapter(chatter))

	incomplete := selfHostedCreds
	incomplete.ServerURL = ""
	require.NoError(t, NewEngine(st, incomplete, f).SendMessage(context.Background(), conv.ID, "a"))
	require.NoError(t, NewEngine(st, selfHostedCreds, f).SendMessage(context.Background(), conv.ID, "b"))

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, "hosted", got.Messages[1].Content)
	assert.Equal(t, "self", got.Messages[3].Content)
}

func TestSendMessage_TurnTimeout(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	streamer := &fakeStreamer{
		before: func(ctx context.Context, _ int) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).
		WithTurnTimeout(20 * time.Millisecond)

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "hang"))

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, DefaultErrorMessage, got.Messages[1].Content)
	assert.Contains(t, e.Error(), context.DeadlineExceeded.Error())
	assertQuiescent(t, st)
}

func TestSendMessage_CustomErrorMessage(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	streamer := &fakeStreamer{startErr: errors.New("nope")}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).
		WithErrorMessage("Backend unavailable.")

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "x"))
	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, "Backend unavailable.", got.Messages[1].Content)
}

// =============================================================================
// PERSISTENCE, METRICS, EVENTS
// =============================================================================

func TestSendMessage_PersistsAfterTurn(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	saver := &fakeSaver{err: errors.New("disk full")}
	streamer := &fakeStreamer{frags: []string{"saved"}}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).
		WithRepository(saver).
		WithLogger(zerolog.Nop())

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "persist me"), "save errors are not surfaced")

	require.Len(t, saver.saves, 1)
	require.Len(t, saver.saves[0], 1)
	assert.Equal(t, "saved", saver.saves[0][0].Messages[1].Content)
}

func TestPersist_LastSaveIsNewest(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	saver := &slowSaver{entered: make(chan struct{}), release: make(chan struct{})}

	partial := make(chan struct{})
	resume := make(chan struct{})
	streamer := &fakeStreamer{
		frags: []string{"Hi", " there!"},
		before: func(_ context.Context, i int) error {
			if i == 1 {
				close(partial)
				<-resume
			}
			return nil
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).
		WithRepository(saver)

	done := make(chan error, 1)
	go func() { done <- e.SendMessage(context.Background(), conv.ID, "Hello") }()
	<-partial

	// A save from outside the turn snapshots the half-written reply and
	// stalls in the repository.
	outside := make(chan error, 1)
	go func() { outside <- e.Persist(context.Background()) }()
	<-saver.entered

	close(resume)
	close(saver.release)
	require.NoError(t, <-done)
	require.NoError(t, <-outside)

	saved := saver.last()
	require.Len(t, saved, 1)
	require.Len(t, saved[0].Messages, 2)
	assert.Equal(t, "Hi there!", saved[0].Messages[1].Content, "the final save must hold the finished reply")
}

func TestSendMessage_RecordsMetrics(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	m := metrics.New()
	streamer := &fakeStreamer{frags: []string{"a", "b"}}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).WithMetrics(m)

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "x"))
	streamer.frags, streamer.startErr = nil, errors.New("down")
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "y"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("hosted", metrics.OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("hosted", metrics.OutcomeFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FragmentsTotal.WithLabelValues("hosted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamingInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversations))
}

func TestSendMessage_PublishesEvents(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	bus := NewEvents(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	streamer := &fakeStreamer{frags: []string{"Hel", "lo"}}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{})).WithEvents(bus)

	go e.SendMessage(context.Background(), conv.ID, "hi")

	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if !ev.Terminal() {
				continue
			}
		case <-timeout:
			t.Fatalf("timed out, got %d events", len(got))
		}
		break
	}

	require.Len(t, got, 4)
	assert.Equal(t, EventTurnStarted, got[0].Kind)
	assert.Equal(t, "hosted", got[0].Backend)
	assert.Equal(t, EventFragment, got[1].Kind)
	assert.Equal(t, "Hel", got[1].Text)
	assert.Equal(t, "Hello", got[2].Content)
	assert.Equal(t, EventTurnCompleted, got[3].Kind)
	assert.Equal(t, "Hello", got[3].Content)
	for _, ev := range got {
		assert.Equal(t, conv.ID, ev.ConversationID)
	}
}

func TestSendMessage_FailureEvent(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	bus := NewEvents(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	chatter := &fakeChatter{err: errors.New("bad gateway")}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter))).WithEvents(bus)
	go e.SendMessage(context.Background(), conv.ID, "hi")

	var last Event
	require.Eventually(t, func() bool {
		select {
		case last = <-events:
			return last.Terminal()
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, EventTurnFailed, last.Kind)
	assert.Equal(t, "bad gateway", last.Error)
	assert.Equal(t, DefaultErrorMessage, last.Content)
}

// =============================================================================
// REGENERATE
// =============================================================================

func TestRegenerateLastResponse(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	chatter := &fakeChatter{content: "first answer"}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "question"))
	chatter.content = "second answer"
	require.NoError(t, e.RegenerateLastResponse(context.Background(), conv.ID))

	got, _ := st.Conversation(conv.ID)
	require.Len(t, got.Messages, 2, "user message must not be duplicated")
	assert.Equal(t, "question", got.Messages[0].Content)
	assert.Equal(t, "second answer", got.Messages[1].Content)
	assert.Equal(t, []transport.Message{{Role: "user", Content: "question"}}, chatter.got)
}

func TestRegenerateLastResponse_KeepsEarlierTurns(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("")
	chatter := &fakeChatter{content: "a1"}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "q1"))
	chatter.content = "a2"
	require.NoError(t, e.SendMessage(context.Background(), conv.ID, "q2"))
	chatter.content = "a2-again"
	require.NoError(t, e.RegenerateLastResponse(context.Background(), conv.ID))

	got, _ := st.Conversation(conv.ID)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "q1", got.Messages[0].Content)
	assert.Equal(t, "a1", got.Messages[1].Content)
	assert.Equal(t, "q2", got.Messages[2].Content)
	assert.Equal(t, "a2-again", got.Messages[3].Content)
	assert.Equal(t, "q1", got.Title)
}

func TestRegenerateLastResponse_NoOps(t *testing.T) {
	st := NewStore()
	chatter := &fakeChatter{content: "x"}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	empty := st.CreateConversation("")
	require.NoError(t, e.RegenerateLastResponse(context.Background(), empty.ID))

	sys := st.CreateConversation("")
	st.AppendMessage(sys.ID, model.NewMessage(model.RoleSystem, "be brief"))
	st.AppendMessage(sys.ID, model.NewMessage(model.RoleAssistant, "hello"))
	require.NoError(t, e.RegenerateLastResponse(context.Background(), sys.ID))

	require.NoError(t, e.RegenerateLastResponse(context.Background(), "missing"))

	assert.Zero(t, chatter.calls)
	assert.False(t, st.IsStreaming(), "a regenerate that does nothing must release the flag")
	got, _ := st.Conversation(sys.ID)
	assert.Len(t, got.Messages, 2)
}

func TestRegenerateLastResponse_SendDuringRegenerateIsIgnored(t *testing.T) {
	st := &hookStore{Store: NewStore()}
	conv := st.CreateConversation("")
	seedTwoTurns(st, conv.ID)

	chatter := &fakeChatter{content: "answer two again"}
	e := NewEngine(st, selfHostedCreds, factory(transport.Adapter{}, selfHostedAdapter(chatter)))

	// Fires after regenerate has claimed the turn and before it truncates.
	var sendErr error
	hook := func() { sendErr = e.SendMessage(context.Background(), conv.ID, "other") }
	st.onConversation.Store(&hook)

	require.NoError(t, e.RegenerateLastResponse(context.Background(), conv.ID))
	require.NoError(t, sendErr)

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, []string{
		"user:q1",
		"assistant:answer one",
		"user:q2",
		"assistant:answer two again",
	}, contents(got))
	assert.Equal(t, 1, chatter.calls)
	assertQuiescent(t, st)
}

func TestRegenerateLastResponse_LosesToInFlightSend(t *testing.T) {
	st := &hookStore{Store: NewStore()}
	conv := st.CreateConversation("")
	seedTwoTurns(st, conv.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	streamer := &fakeStreamer{
		frags: []string{"other answer"},
		before: func(_ context.Context, i int) error {
			if i == 0 {
				close(started)
				<-release
			}
			return nil
		},
	}
	e := NewEngine(st, credentials.Static{}, factory(hostedAdapter(streamer), transport.Adapter{}))

	// A send claims the turn just before regenerate tries to.
	done := make(chan error, 1)
	hook := func() {
		go func() { done <- e.SendMessage(context.Background(), conv.ID, "other") }()
		<-started
	}
	st.onTryBegin.Store(&hook)

	require.NoError(t, e.RegenerateLastResponse(context.Background(), conv.ID))
	close(release)
	require.NoError(t, <-done)

	got, _ := st.Conversation(conv.ID)
	assert.Equal(t, []string{
		"user:q1",
		"assistant:answer one",
		"user:q2",
		"assistant:answer two",
		"user:other",
		"assistant:other answer",
	}, contents(got), "finished replies must never be overwritten")
	assertQuiescent(t, st)
}
