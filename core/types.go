package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message within a conversation.
type Role string

const (
	// RoleUser marks messages written by the authenticated caller.
	RoleUser Role = "user"
	// RoleAssistant marks replies produced by the agent runtime.
	RoleAssistant Role = "assistant"
	// RoleSystem marks injected instruction messages.
	RoleSystem Role = "system"
)

// Valid reports whether the role is one of the known conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Conversation is a durable container for an ordered message exchange owned by
// exactly one user. The title starts empty and is set automatically from the
// first message of the conversation.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single immutable turn fragment inside a conversation. Content
// is finalized at creation time; the optional ToolCalls record and Metadata
// (e.g. tools_used) are attached at creation and never mutated afterwards.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      map[string]any `json:"tool_calls,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// HistoryEntry is the reduced {role, content} projection of a persisted
// message handed to the agent runtime as conversational context. It is derived
// per turn and never persisted.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewID generates a unique identifier for conversations, messages and remote
// protocol requests.
func NewID() string { return uuid.NewString() }
