package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trendchat/trendchat/core"
)

// InMemoryStore implements Store with maps behind a mutex. Useful for tests
// and ephemeral deployments; all returned values are clones.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	messages      map[string][]*core.Message
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		messages:      make(map[string][]*core.Message),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateConversation(_ context.Context, userID string, title *string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &core.Conversation{
		ID:        core.NewID(),
		UserID:    userID,
		Title:     cloneTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, conversationID, userID string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, core.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, userID string, limit, offset int) ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*core.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			owned = append(owned, conv)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	return clonePage(owned, limit, offset, cloneConversation), nil
}

func (s *InMemoryStore) UpdateConversationTitle(_ context.Context, conversationID, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return core.ErrNotFound
	}
	t := title
	conv.Title = &t
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) CreateMessage(_ context.Context, msg *core.Message) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneMessage(msg)
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	s.messages[stored.ConversationID] = append(s.messages[stored.ConversationID], stored)
	if conv, ok := s.conversations[stored.ConversationID]; ok {
		conv.UpdatedAt = stored.Timestamp
	}
	return cloneMessage(stored), nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, conversationID, userID string, limit, offset int) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, core.ErrNotFound
	}
	// Append order is creation order, which keeps equal timestamps stable.
	return clonePage(s.messages[conversationID], limit, offset, cloneMessage), nil
}

func clonePage[T any](items []*T, limit, offset int, clone func(*T) *T) []*T {
	if offset >= len(items) {
		return []*T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]*T, 0, end-offset)
	for _, item := range items[offset:end] {
		out = append(out, clone(item))
	}
	return out
}

func cloneConversation(c *core.Conversation) *core.Conversation {
	out := *c
	out.Title = cloneTitle(c.Title)
	return &out
}

func cloneMessage(m *core.Message) *core.Message {
	out := *m
	out.ToolCalls = cloneMap(m.ToolCalls)
	out.Metadata = cloneMap(m.Metadata)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTitle(t *string) *string {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
