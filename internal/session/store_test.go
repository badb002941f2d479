package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(filepath.Join(t.TempDir(), "chats.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "demo")
	require.NoError(t, err)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, "demo", sess.Title)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Empty(t, sess.SystemPrompt)
	assert.Nil(t, sess.Tags)

	untitled, err := store.CreateSession(ctx, "  ")
	require.NoError(t, err)
	assert.Greater(t, untitled, id, "ids are monotonic")

	sess, err = store.GetSession(ctx, untitled)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, sess.Title)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), 42)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var storeErr *StoreError
	assert.False(t, errors.As(err, &storeErr), "missing rows are not storage failures")
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "order")
	require.NoError(t, err)

	roles := []string{RoleAssistant, RoleUser, "tool", RoleUser, RoleAssistant, RoleAssistant}
	for i, role := range roles {
		_, err := store.AppendMessage(ctx, id, role, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	messages, err := store.GetMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, messages, len(roles))
	for i, msg := range messages {
		assert.Equal(t, roles[i], msg.Role)
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
		assert.Equal(t, id, msg.SessionID)
		if i > 0 {
			assert.False(t, msg.CreatedAt.Before(messages[i-1].CreatedAt))
		}
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendMessage(context.Background(), 99, RoleUser, "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDemoScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "demo")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, RoleUser, "hi")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, RoleAssistant, "hello")
	require.NoError(t, err)

	messages, err := store.GetMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "hello", messages[1].Content)
}

func TestDeleteSessionRemovesSearchHits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doomed, err := store.CreateSession(ctx, "doomed")
	require.NoError(t, err)
	kept, err := store.CreateSession(ctx, "kept")
	require.NoError(t, err)

	for _, id := range []int64{doomed, kept} {
		_, err := store.AppendMessage(ctx, id, RoleUser, "tell me about golang channels")
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, id, RoleAssistant, "Channels connect goroutines.")
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteSession(ctx, doomed))

	for _, keyword := range []string{"golang", "channels", "Channels", "o", ""} {
		hits, err := store.SearchMessages(ctx, keyword)
		require.NoError(t, err)
		for _, hit := range hits {
			assert.NotEqual(t, doomed, hit.SessionID, "keyword %q", keyword)
		}
		assert.NotEmpty(t, hits, "keyword %q", keyword)
	}

	_, err = store.GetSession(ctx, doomed)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	messages, err := store.GetMessages(ctx, doomed)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.ErrorIs(t, store.DeleteSession(ctx, doomed), ErrSessionNotFound)
}

func TestSearchMessagesEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "search")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, RoleUser, "progress is 100% done")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, RoleUser, "snake_case names")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, RoleUser, "plain words")
	require.NoError(t, err)

	hits, err := store.SearchMessages(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "progress is 100% done", hits[0].Content)

	hits, err = store.SearchMessages(ctx, "_")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "snake_case names", hits[0].Content)

	hits, err = store.SearchMessages(ctx, "PLAIN")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestClearMessagesKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "clear")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.AppendMessage(ctx, id, RoleUser, "x")
		require.NoError(t, err)
	}

	n, err := store.ClearMessages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	messages, err := store.GetMessages(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = store.GetSession(ctx, id)
	assert.NoError(t, err)
}

func TestDeleteAllSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, title := range []string{"a", "b"} {
		id, err := store.CreateSession(ctx, title)
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, id, RoleUser, "hello")
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteAllSessions(ctx))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	hits, err := store.SearchMessages(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestProfileUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertProfile(ctx, "name", "Ada"))
	require.NoError(t, store.UpsertProfile(ctx, "name", "Grace"))
	require.NoError(t, store.UpsertProfile(ctx, "editor", "vim"))

	value, ok, err := store.GetProfile(ctx, "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Grace", value)

	entries, err := store.ListProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ProfileEntry{{Key: "editor", Value: "vim"}, {Key: "name", Value: "Grace"}}, entries)

	_, ok, err = store.GetProfile(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameTagAndSystemPrompt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "before")
	require.NoError(t, err)

	require.NoError(t, store.RenameSession(ctx, id, "after"))
	require.NoError(t, store.SetTags(ctx, id, []string{" go ", "", "sqlite"}))
	require.NoError(t, store.SetSystemPrompt(ctx, id, "Answer tersely."))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", sess.Title)
	assert.Equal(t, []string{"go", "sqlite"}, sess.Tags)
	assert.Equal(t, "Answer tersely.", sess.SystemPrompt)

	require.NoError(t, store.SetSystemPrompt(ctx, id, ""))
	sess, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sess.SystemPrompt)

	assert.ErrorIs(t, store.RenameSession(ctx, id+1, "nope"), ErrSessionNotFound)
	assert.ErrorIs(t, store.SetTags(ctx, id+1, nil), ErrSessionNotFound)
}

func TestStoreErrorWrapsCause(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.ListSessions(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "list sessions", storeErr.Op)
	assert.Contains(t, err.Error(), "store: list sessions")
}
