package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendchat/trendchat/core"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteConversationRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Nil(t, created.Title)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := st.GetConversation(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Nil(t, got.Title)
}

func TestSQLiteConversationOwnerScoping(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	_, err = st.GetConversation(ctx, created.ID, "user-2")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = st.ListMessages(ctx, created.ID, "user-2", 10, 0)
	assert.ErrorIs(t, err, core.ErrNotFound)

	conversations, err := st.ListConversations(ctx, "user-2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestSQLiteUpdateConversationTitle(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, st.UpdateConversationTitle(ctx, created.ID, "user-1", "Hello"))

	got, err := st.GetConversation(ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Hello", *got.Title)

	assert.ErrorIs(t, st.UpdateConversationTitle(ctx, "missing", "user-1", "x"), core.ErrNotFound)
	assert.ErrorIs(t, st.UpdateConversationTitle(ctx, created.ID, "user-2", "x"), core.ErrNotFound)
}

func TestSQLiteMessagesRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	first, err := st.CreateMessage(ctx, &core.Message{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Role:           core.RoleUser,
		Content:        "what is trending?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := st.CreateMessage(ctx, &core.Message{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Role:           core.RoleAssistant,
		Content:        "Here is what I found.",
		Metadata:       map[string]any{"tools_used": []any{"web_search"}},
		Timestamp:      first.Timestamp.Add(time.Second),
	})
	require.NoError(t, err)

	messages, err := st.ListMessages(ctx, conv.ID, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, core.RoleUser, messages[0].Role)
	assert.Nil(t, messages[0].Metadata)

	assert.Equal(t, second.ID, messages[1].ID)
	assert.Equal(t, core.RoleAssistant, messages[1].Role)
	assert.Equal(t, map[string]any{"tools_used": []any{"web_search"}}, messages[1].Metadata)
}

func TestSQLiteMessagePagination(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	base := time.Now().UTC()
	contents := []string{"one", "two", "three"}
	for i, content := range contents {
		_, err := st.CreateMessage(ctx, &core.Message{
			ConversationID: conv.ID,
			UserID:         "user-1",
			Role:           core.RoleUser,
			Content:        content,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	page, err := st.ListMessages(ctx, conv.ID, "user-1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)
}

func TestSQLiteListConversationsNewestFirst(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)
	second, err := st.CreateConversation(ctx, "user-1", nil)
	require.NoError(t, err)

	// A new message bumps the conversation's last activity.
	_, err = st.CreateMessage(ctx, &core.Message{
		ConversationID: first.ID,
		UserID:         "user-1",
		Role:           core.RoleUser,
		Content:        "bump",
		Timestamp:      time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, err)

	conversations, err := st.ListConversations(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}
