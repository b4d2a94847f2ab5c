// Package chat orchestrates conversation turns: persistence, the history
// window, agent invocation, and the streaming event protocol.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/trendchat/trendchat/agent"
	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
	"github.com/trendchat/trendchat/metrics"
	"github.com/trendchat/trendchat/store"
)

// noResponsePlaceholder is persisted when a turn produces no text at all, so
// every turn leaves a visible assistant message.
const noResponsePlaceholder = "(No response)"

const (
	maxConversationPageSize = 100
	maxMessagePageSize      = 200
)

// Agent is the reasoning dependency of the orchestrator. Both operations
// absorb their own failures and always produce text.
type Agent interface {
	Answer(ctx context.Context, message string, history []core.HistoryEntry) agent.Result
	Stream(ctx context.Context, message string, history []core.HistoryEntry) <-chan agent.Event
}

// Options configure the orchestrator.
type Options struct {
	HistoryLimit      int
	TitleMaxLength    int
	MaxConcurrentRuns int
	Logger            logging.Logger
	Metrics           *metrics.Metrics
}

// Orchestrator coordinates one chat turn end to end. It is safe for
// concurrent use; concurrent turns on the same conversation are not
// serialized, matching last-write-wins persistence semantics.
type Orchestrator struct {
	store        store.Store
	agent        Agent
	limiter      *core.InvocationLimiter
	historyLimit int
	titleMaxLen  int
	logger       logging.Logger
	metrics      *metrics.Metrics
}

// Reply is the outcome of a blocking turn.
type Reply struct {
	ConversationID string
	Message        *core.Message
}

// turnLogger is the richer logging surface used when the configured logger
// supports it, as *logging.ChatLogger does.
type turnLogger interface {
	WithTurn(conversationID, turnID string) *logging.ChatLogger
}

// turnState carries one turn's context between beginTurn and finishTurn.
type turnState struct {
	conv    *core.Conversation
	created bool
	history []core.HistoryEntry
	log     logging.Logger
}

func NewOrchestrator(st store.Store, ag Agent, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		HistoryLimit:      20,
		TitleMaxLength:    200,
		MaxConcurrentRuns: 16,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		store:        st,
		agent:        ag,
		limiter:      core.NewInvocationLimiter(opts.MaxConcurrentRuns),
		historyLimit: opts.HistoryLimit,
		titleMaxLen:  opts.TitleMaxLength,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// SendMessage runs one blocking turn: persist the inbound message, answer it
// against the bounded history window, persist the reply, and return it.
// conversationID may be empty to start a new conversation.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, conversationID, message string) (*Reply, error) {
	start := time.Now()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, core.NewValidationError("message", "must not be empty")
	}

	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.limiter.Release()

	turn, err := o.beginTurn(ctx, userID, conversationID, message)
	if err != nil {
		o.observeTurn("blocking", "error", start)
		return nil, err
	}

	result := o.agent.Answer(ctx, message, turn.history)
	for _, name := range result.ToolsUsed {
		o.metrics.ObserveToolInvocation(name)
	}

	reply, err := o.finishTurn(ctx, turn, message, result.Text, result.ToolsUsed)
	if err != nil {
		o.observeTurn("blocking", "error", start)
		return nil, err
	}
	o.observeTurn("blocking", "ok", start)
	return reply, nil
}

// SendMessageStream runs one streamed turn. Setup failures (access, inbound
// persistence, history load) are returned before any frame is produced; once
// the channel is handed out it always terminates with a done or error event.
func (o *Orchestrator) SendMessageStream(ctx context.Context, userID, conversationID, message string) (<-chan StreamEvent, error) {
	start := time.Now()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, core.NewValidationError("message", "must not be empty")
	}

	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	turn, err := o.beginTurn(ctx, userID, conversationID, message)
	if err != nil {
		o.limiter.Release()
		o.observeTurn("stream", "error", start)
		return nil, err
	}

	out := make(chan StreamEvent, 32)
	go func() {
		defer close(out)
		defer o.limiter.Release()

		var text strings.Builder
		var toolsUsed []string
		seen := make(map[string]bool)

		for event := range o.agent.Stream(ctx, message, turn.history) {
			switch event.Kind {
			case agent.EventToken:
				text.WriteString(event.Token)
				o.metrics.ObserveStreamEvent(EventChunk)
				out <- chunkEvent(event.Token)
			case agent.EventToolStart:
				if !seen[event.Tool] {
					seen[event.Tool] = true
					toolsUsed = append(toolsUsed, event.Tool)
				}
				o.metrics.ObserveToolInvocation(event.Tool)
				o.metrics.ObserveStreamEvent(EventToolStart)
				out <- toolStartEvent(event.Tool)
			}
		}

		reply, err := o.finishTurn(ctx, turn, message, text.String(), toolsUsed)
		if err != nil {
			turn.log.Error("failed to persist streamed reply", "error", err.Error())
			o.metrics.ObserveStreamEvent(EventError)
			o.observeTurn("stream", "error", start)
			out <- errorEvent("Failed to save the response. Please try again.")
			return
		}
		o.metrics.ObserveStreamEvent(EventDone)
		o.observeTurn("stream", "ok", start)
		out <- doneEvent(turn.conv.ID, reply.Message)
	}()
	return out, nil
}

// beginTurn resolves or creates the conversation, persists the inbound user
// message, and loads the bounded history window (oldest first, inbound
// message included).
func (o *Orchestrator) beginTurn(ctx context.Context, userID, conversationID, message string) (*turnState, error) {
	var conv *core.Conversation
	var err error
	created := conversationID == ""
	if created {
		conv, err = o.store.CreateConversation(ctx, userID, nil)
	} else {
		conv, err = o.store.GetConversation(ctx, conversationID, userID)
	}
	if err != nil {
		return nil, err
	}

	inbound, err := o.store.CreateMessage(ctx, &core.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           core.RoleUser,
		Content:        message,
	})
	if err != nil {
		return nil, err
	}

	log := o.logger
	if tl, ok := o.logger.(turnLogger); ok {
		log = tl.WithTurn(conv.ID, inbound.ID)
	}

	stored, err := o.store.ListMessages(ctx, conv.ID, userID, o.historyLimit, 0)
	if err != nil {
		return nil, err
	}
	history := make([]core.HistoryEntry, 0, len(stored))
	for _, msg := range stored {
		history = append(history, core.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}
	return &turnState{conv: conv, created: created, history: history, log: log}, nil
}

// finishTurn persists the assistant reply, titles a conversation created this
// turn, and assembles the Reply.
func (o *Orchestrator) finishTurn(ctx context.Context, turn *turnState, inbound, text string, toolsUsed []string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		text = noResponsePlaceholder
	}

	var metadata map[string]any
	if len(toolsUsed) > 0 {
		used := make([]any, 0, len(toolsUsed))
		for _, name := range toolsUsed {
			used = append(used, name)
		}
		metadata = map[string]any{"tools_used": used}
	}

	msg, err := o.store.CreateMessage(ctx, &core.Message{
		ConversationID: turn.conv.ID,
		UserID:         turn.conv.UserID,
		Role:           core.RoleAssistant,
		Content:        text,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}

	// Only a conversation created this turn is titled; an existing
	// conversation keeps whatever title it has, even none.
	if turn.created {
		if title := o.deriveTitle(inbound); title != "" {
			if err := o.store.UpdateConversationTitle(ctx, turn.conv.ID, turn.conv.UserID, title); err != nil {
				// The turn itself succeeded; a missing title is cosmetic.
				turn.log.Warn("failed to set conversation title", "error", err.Error())
			}
		}
	}

	return &Reply{ConversationID: turn.conv.ID, Message: msg}, nil
}

// deriveTitle takes the opening of the first user message, truncated with an
// ellipsis marker when it runs long.
func (o *Orchestrator) deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	runes := []rune(title)
	if len(runes) > o.titleMaxLen {
		return string(runes[:o.titleMaxLen]) + "..."
	}
	return title
}

// ListConversations pages through the caller's conversations, newest first.
func (o *Orchestrator) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*core.Conversation, error) {
	if limit < 1 || limit > maxConversationPageSize {
		return nil, core.NewValidationError("limit", "must be between 1 and 100")
	}
	if offset < 0 {
		return nil, core.NewValidationError("offset", "must not be negative")
	}
	return o.store.ListConversations(ctx, userID, limit, offset)
}

// GetMessages pages through one conversation's messages, oldest first.
func (o *Orchestrator) GetMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*core.Message, error) {
	if limit < 1 || limit > maxMessagePageSize {
		return nil, core.NewValidationError("limit", "must be between 1 and 200")
	}
	if offset < 0 {
		return nil, core.NewValidationError("offset", "must not be negative")
	}
	return o.store.ListMessages(ctx, conversationID, userID, limit, offset)
}

func (o *Orchestrator) observeTurn(mode, outcome string, start time.Time) {
	o.metrics.ObserveTurn(mode, outcome, time.Since(start).Seconds())
}
