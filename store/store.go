// Package store persists conversations and messages. All reads are scoped to
// the owning user; a conversation belonging to someone else is
// indistinguishable from one that does not exist.
package store

import (
	"context"

	"github.com/trendchat/trendchat/core"
)

// Store is the persistence contract for the chat domain.
//
// ListConversations returns newest-first by last update; ListMessages returns
// oldest-first by creation. Both GetConversation and ListMessages return
// core.ErrNotFound when the conversation is missing or owned by another user.
type Store interface {
	CreateConversation(ctx context.Context, userID string, title *string) (*core.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*core.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*core.Conversation, error)
	UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error

	CreateMessage(ctx context.Context, msg *core.Message) (*core.Message, error)
	ListMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]*core.Message, error)

	Close() error
}
