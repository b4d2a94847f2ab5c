package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
)

// RetryingStore wraps a Store and retries read operations once after a fixed
// delay when they fail with a transient infrastructure fault. Writes are
// never retried; a failed write surfaces immediately so callers do not risk
// duplicating records.
type RetryingStore struct {
	inner  Store
	delay  time.Duration
	logger logging.Logger
}

// RetryOptions configure a RetryingStore.
type RetryOptions struct {
	Delay  time.Duration
	Logger logging.Logger
}

var _ Store = (*RetryingStore)(nil)

func NewRetryingStore(inner Store, optFns ...func(o *RetryOptions)) *RetryingStore {
	opts := RetryOptions{
		Delay:  200 * time.Millisecond,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RetryingStore{inner: inner, delay: opts.Delay, logger: opts.Logger}
}

// IsTransient reports whether err looks like an infrastructure fault worth a
// single retry. Application errors (not found, validation, unauthorized) are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrUnauthorized) {
		return false
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var terr *core.TransientError
	if errors.As(err, &terr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}

// readRetry runs op, and on a transient failure waits the fixed delay and
// runs it exactly once more.
func readRetry[T any](ctx context.Context, s *RetryingStore, name string, op func() (T, error)) (T, error) {
	out, err := op()
	if err == nil || !IsTransient(err) {
		return out, err
	}

	s.logger.Warn("transient read failure, retrying once", "op", name, "error", err.Error())
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	return op()
}

func (s *RetryingStore) Close() error { return s.inner.Close() }

func (s *RetryingStore) CreateConversation(ctx context.Context, userID string, title *string) (*core.Conversation, error) {
	return s.inner.CreateConversation(ctx, userID, title)
}

func (s *RetryingStore) GetConversation(ctx context.Context, conversationID, userID string) (*core.Conversation, error) {
	return readRetry(ctx, s, "get_conversation", func() (*core.Conversation, error) {
		return s.inner.GetConversation(ctx, conversationID, userID)
	})
}

func (s *RetryingStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*core.Conversation, error) {
	return readRetry(ctx, s, "list_conversations", func() ([]*core.Conversation, error) {
		return s.inner.ListConversations(ctx, userID, limit, offset)
	})
}

func (s *RetryingStore) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error {
	return s.inner.UpdateConversationTitle(ctx, conversationID, userID, title)
}

func (s *RetryingStore) CreateMessage(ctx context.Context, msg *core.Message) (*core.Message, error) {
	return s.inner.CreateMessage(ctx, msg)
}

func (s *RetryingStore) ListMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]*core.Message, error) {
	return readRetry(ctx, s, "list_messages", func() ([]*core.Message, error) {
		return s.inner.ListMessages(ctx, conversationID, userID, limit, offset)
	})
}
