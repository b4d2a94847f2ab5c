package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendchat/trendchat/core"
)

func TestInMemoryConversationLifecycle(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Nil(t, conv.Title)

	got, err := st.GetConversation(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = st.GetConversation(ctx, conv.ID, "user-2")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, st.UpdateConversationTitle(ctx, conv.ID, "user-1", "My chat"))
	got, err = st.GetConversation(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "My chat", *got.Title)

	err = st.UpdateConversationTitle(ctx, conv.ID, "user-2", "hijack")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryMessagesOrderedOldestFirst(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := st.CreateMessage(ctx, &core.Message{
			ConversationID: conv.ID,
			UserID:         "user-1",
			Role:           core.RoleUser,
			Content:        content,
		})
		require.NoError(t, err)
	}

	messages, err := st.ListMessages(ctx, conv.ID, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "three", messages[2].Content)

	page, err := st.ListMessages(ctx, conv.ID, "user-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Content)

	empty, err := st.ListMessages(ctx, conv.ID, "user-1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryMessagesScopedToOwner(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	_, err = st.ListMessages(ctx, conv.ID, "user-2", 10, 0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryReturnsClones(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	msg, err := st.CreateMessage(ctx, &core.Message{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Role:           core.RoleAssistant,
		Content:        "answer",
		Metadata:       map[string]any{"tools_used": []any{"web_search"}},
	})
	require.NoError(t, err)

	msg.Metadata["tools_used"] = []any{"tampered"}
	msg.Content = "tampered"

	stored, err := st.ListMessages(ctx, conv.ID, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "answer", stored[0].Content)
	assert.Equal(t, []any{"web_search"}, stored[0].Metadata["tools_used"])
}

func TestInMemoryConversationsNewestFirst(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	first, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)
	second, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)
	_, err = st.CreateConversation(ctx, "user-2", nil)
	require.NoError(t, err)

	// Activity on the first conversation bumps it back to the top.
	_, err = st.CreateMessage(ctx, &core.Message{
		ConversationID: first.ID,
		UserID:         "user-1",
		Role:           core.RoleUser,
		Content:        "bump",
	})
	require.NoError(t, err)

	conversations, err := st.ListConversations(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}
