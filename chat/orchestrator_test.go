package chat

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendchat/trendchat/agent"
	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
	"github.com/trendchat/trendchat/store"
)

// fakeAgent returns a fixed reply, optionally announcing tool usage, and
// records the history window it was handed.
type fakeAgent struct {
	reply       string
	tools       []string
	streamSplit int
	lastHistory []core.HistoryEntry
}

func (f *fakeAgent) Answer(_ context.Context, _ string, history []core.HistoryEntry) agent.Result {
	f.lastHistory = history
	return agent.Result{Text: f.reply, ToolsUsed: f.tools}
}

func (f *fakeAgent) Stream(_ context.Context, _ string, history []core.HistoryEntry) <-chan agent.Event {
	f.lastHistory = history
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		for _, tool := range f.tools {
			out <- agent.Event{Kind: agent.EventToolStart, Tool: tool}
		}
		split := f.streamSplit
		if split < 1 {
			split = 1
		}
		text := f.reply
		for len(text) > 0 {
			n := split
			if n > len(text) {
				n = len(text)
			}
			out <- agent.Event{Kind: agent.EventToken, Token: text[:n]}
			text = text[n:]
		}
	}()
	return out
}

func newTestOrchestrator(ag Agent) (*Orchestrator, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewOrchestrator(st, ag), st
}

func TestSendMessageNewConversation(t *testing.T) {
	ag := &fakeAgent{reply: "Hi! How can I help?"}
	o, st := newTestOrchestrator(ag)

	reply, err := o.SendMessage(context.Background(), "user-1", "", "Hello")
	require.NoError(t, err)
	require.NotNil(t, reply.Message)

	assert.Equal(t, core.RoleAssistant, reply.Message.Role)
	assert.Equal(t, "Hi! How can I help?", reply.Message.Content)

	conv, err := st.GetConversation(context.Background(), reply.ConversationID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Hello", *conv.Title)

	messages, err := st.ListMessages(context.Background(), reply.ConversationID, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, core.RoleUser, messages[0].Role)
	assert.Equal(t, core.RoleAssistant, messages[1].Role)
}

func TestSendMessageTitleTruncated(t *testing.T) {
	ag := &fakeAgent{reply: "ok"}
	o, st := newTestOrchestrator(ag)

	long := strings.Repeat("a", 250)
	reply, err := o.SendMessage(context.Background(), "user-1", "", long)
	require.NoError(t, err)

	conv, err := st.GetConversation(context.Background(), reply.ConversationID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conv.Title)
	assert.Equal(t, strings.Repeat("a", 200)+"...", *conv.Title)
}

func TestSendMessageExistingConversationKeepsTitle(t *testing.T) {
	ag := &fakeAgent{reply: "second reply"}
	o, st := newTestOrchestrator(ag)

	first, err := o.SendMessage(context.Background(), "user-1", "", "first question")
	require.NoError(t, err)

	_, err = o.SendMessage(context.Background(), "user-1", first.ConversationID, "second question")
	require.NoError(t, err)

	conv, err := st.GetConversation(context.Background(), first.ConversationID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "first question", *conv.Title)
}

func TestSendMessageExistingUntitledConversationNotTitled(t *testing.T) {
	ag := &fakeAgent{reply: "reply"}
	o, st := newTestOrchestrator(ag)
	ctx := context.Background()

	// An untitled conversation that was not created this turn, as after a
	// failed title update on its opening turn.
	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	_, err = o.SendMessage(ctx, "user-1", conv.ID, "a later question")
	require.NoError(t, err)

	got, err := st.GetConversation(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got.Title)
}

func TestSendMessageToolsUsedMetadata(t *testing.T) {
	ag := &fakeAgent{reply: "answer", tools: []string{"web_search", "google_trends"}}
	o, _ := newTestOrchestrator(ag)

	reply, err := o.SendMessage(context.Background(), "user-1", "", "question")
	require.NoError(t, err)

	require.NotNil(t, reply.Message.Metadata)
	assert.Equal(t, []any{"web_search", "google_trends"}, reply.Message.Metadata["tools_used"])
}

func TestSendMessageEmptyReplyPlaceholder(t *testing.T) {
	ag := &fakeAgent{reply: "   "}
	o, _ := newTestOrchestrator(ag)

	reply, err := o.SendMessage(context.Background(), "user-1", "", "question")
	require.NoError(t, err)
	assert.Equal(t, "(No response)", reply.Message.Content)
}

func TestSendMessageRejectsEmptyMessage(t *testing.T) {
	o, st := newTestOrchestrator(&fakeAgent{reply: "x"})
	ctx := context.Background()

	_, err := o.SendMessage(ctx, "user-1", "", "   ")
	assert.True(t, core.IsValidation(err))

	_, err = o.SendMessageStream(ctx, "user-1", "", "")
	assert.True(t, core.IsValidation(err))

	// Rejected before any persistence.
	conversations, err := st.ListConversations(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeAgent{reply: "x"})

	_, err := o.SendMessage(context.Background(), "user-1", "missing", "question")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSendMessageCrossUserConversation(t *testing.T) {
	ag := &fakeAgent{reply: "x"}
	o, _ := newTestOrchestrator(ag)

	reply, err := o.SendMessage(context.Background(), "user-1", "", "mine")
	require.NoError(t, err)

	_, err = o.SendMessage(context.Background(), "user-2", reply.ConversationID, "theirs")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSendMessageHistoryIncludesInbound(t *testing.T) {
	ag := &fakeAgent{reply: "reply"}
	o, _ := newTestOrchestrator(ag)

	_, err := o.SendMessage(context.Background(), "user-1", "", "hello there")
	require.NoError(t, err)

	require.Len(t, ag.lastHistory, 1)
	assert.Equal(t, core.RoleUser, ag.lastHistory[0].Role)
	assert.Equal(t, "hello there", ag.lastHistory[0].Content)
}

func TestSendMessageHistoryWindowBounded(t *testing.T) {
	ag := &fakeAgent{reply: "r"}
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st, ag, func(opts *Options) {
		opts.HistoryLimit = 4
	})

	var convID string
	for i := 0; i < 5; i++ {
		reply, err := o.SendMessage(context.Background(), "user-1", convID, "msg")
		require.NoError(t, err)
		convID = reply.ConversationID
	}

	assert.Len(t, ag.lastHistory, 4)
	// Oldest first: the window starts at the head of the conversation.
	assert.Equal(t, core.RoleUser, ag.lastHistory[0].Role)
}

func TestSendMessageStream(t *testing.T) {
	ag := &fakeAgent{reply: "streamed reply", tools: []string{"web_search"}, streamSplit: 4}
	o, _ := newTestOrchestrator(ag)

	events, err := o.SendMessageStream(context.Background(), "user-1", "", "question")
	require.NoError(t, err)

	var chunks strings.Builder
	var tools []string
	var done *StreamEvent
	for event := range events {
		switch event.Type {
		case EventChunk:
			chunks.WriteString(event.Content)
		case EventToolStart:
			tools = append(tools, event.Tool)
		case EventDone:
			e := event
			done = &e
		case EventError:
			t.Fatalf("unexpected error event: %s", event.Detail)
		}
	}

	require.NotNil(t, done, "stream must terminate with a done event")
	assert.Equal(t, []string{"web_search"}, tools)
	assert.Equal(t, "streamed reply", chunks.String())
	require.NotNil(t, done.Message)
	assert.Equal(t, "streamed reply", done.Message.Content)
	assert.Equal(t, done.Message.ID, done.MessageID)
	assert.Equal(t, []any{"web_search"}, done.Message.Metadata["tools_used"])
}

func TestSendMessageStreamSetupErrorBeforeFrames(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeAgent{reply: "x"})

	events, err := o.SendMessageStream(context.Background(), "user-1", "missing", "question")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Nil(t, events)
}

func TestSendMessageStreamEmptyReplyPlaceholder(t *testing.T) {
	ag := &fakeAgent{reply: ""}
	o, _ := newTestOrchestrator(ag)

	events, err := o.SendMessageStream(context.Background(), "user-1", "", "question")
	require.NoError(t, err)

	var done *StreamEvent
	for event := range events {
		if event.Type == EventDone {
			e := event
			done = &e
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "(No response)", done.Message.Content)
}

func TestListConversationsValidation(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeAgent{reply: "x"})
	ctx := context.Background()

	_, err := o.ListConversations(ctx, "user-1", 0, 0)
	assert.True(t, core.IsValidation(err))

	_, err = o.ListConversations(ctx, "user-1", 101, 0)
	assert.True(t, core.IsValidation(err))

	_, err = o.ListConversations(ctx, "user-1", 10, -1)
	assert.True(t, core.IsValidation(err))

	_, err = o.ListConversations(ctx, "user-1", 100, 0)
	assert.NoError(t, err)
}

func TestGetMessagesValidation(t *testing.T) {
	ag := &fakeAgent{reply: "x"}
	o, _ := newTestOrchestrator(ag)
	ctx := context.Background()

	reply, err := o.SendMessage(ctx, "user-1", "", "hello")
	require.NoError(t, err)

	_, err = o.GetMessages(ctx, "user-1", reply.ConversationID, 0, 0)
	assert.True(t, core.IsValidation(err))

	_, err = o.GetMessages(ctx, "user-1", reply.ConversationID, 201, 0)
	assert.True(t, core.IsValidation(err))

	_, err = o.GetMessages(ctx, "user-1", reply.ConversationID, 10, -1)
	assert.True(t, core.IsValidation(err))

	messages, err := o.GetMessages(ctx, "user-1", reply.ConversationID, 200, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestGetMessagesCrossUser(t *testing.T) {
	ag := &fakeAgent{reply: "x"}
	o, _ := newTestOrchestrator(ag)
	ctx := context.Background()

	reply, err := o.SendMessage(ctx, "user-1", "", "hello")
	require.NoError(t, err)

	_, err = o.GetMessages(ctx, "user-2", reply.ConversationID, 10, 0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// recordingTurnLogger captures the identifiers handed to WithTurn, the same
// upgrade path *logging.ChatLogger takes.
type recordingTurnLogger struct {
	logging.NoOpLogger
	conversationID string
	turnID         string
}

func (r *recordingTurnLogger) WithTurn(conversationID, turnID string) *logging.ChatLogger {
	r.conversationID = conversationID
	r.turnID = turnID
	return logging.NewLogger(&logging.LoggerConfig{Format: "json", Output: io.Discard})
}

func TestSendMessageScopesLoggerToTurn(t *testing.T) {
	ag := &fakeAgent{reply: "reply"}
	st := store.NewInMemoryStore()
	rec := &recordingTurnLogger{}
	o := NewOrchestrator(st, ag, func(opts *Options) {
		opts.Logger = rec
	})
	ctx := context.Background()

	reply, err := o.SendMessage(ctx, "user-1", "", "hello")
	require.NoError(t, err)

	assert.Equal(t, reply.ConversationID, rec.conversationID)

	// The turn is identified by the inbound user message.
	messages, err := st.ListMessages(ctx, reply.ConversationID, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, messages[0].ID, rec.turnID)
}

func TestListConversationsNewestFirst(t *testing.T) {
	ag := &fakeAgent{reply: "x"}
	o, _ := newTestOrchestrator(ag)
	ctx := context.Background()

	first, err := o.SendMessage(ctx, "user-1", "", "first")
	require.NoError(t, err)
	second, err := o.SendMessage(ctx, "user-1", "", "second")
	require.NoError(t, err)

	conversations, err := o.ListConversations(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, second.ConversationID, conversations[0].ID)
	assert.Equal(t, first.ConversationID, conversations[1].ID)
}
