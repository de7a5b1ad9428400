package visibility_test

import (
	"context"
	"testing"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	messages *repository.MemoryMessageStore
	chats    *repository.MemoryChatLedger
	users    *repository.MemoryUserStore
	resolver *visibility.Resolver
	alice    *models.User
	bob      *models.User
	chat     *models.Chat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		messages: repository.NewMemoryMessageStore(),
		chats:    repository.NewMemoryChatLedger(),
		users:    repository.NewMemoryUserStore(),
	}
	f.resolver = visibility.NewResolver(f.messages, f.chats, f.users)

	f.alice = &models.User{Phone: "9000000001", Name: "Alice"}
	f.bob = &models.User{Phone: "9000000002", Name: "Bob"}
	require.NoError(t, f.users.Create(ctx, f.alice))
	require.NoError(t, f.users.Create(ctx, f.bob))
	require.NoError(t, f.users.AddContact(ctx, f.alice.ID, models.Contact{Phone: f.bob.Phone, Name: "Bobby"}))
	alice, err := f.users.GetByID(ctx, f.alice.ID)
	require.NoError(t, err)
	f.alice = alice

	chat, _, err := f.chats.FindOrCreate(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	f.chat = chat
	return f
}

func (f *fixture) send(t *testing.T, from, to *models.User, text string) *models.Message {
	t.Helper()
	ctx := context.Background()
	m, err := f.messages.Append(ctx, f.chat.ID, from.ID, to.ID, text, models.TypeText)
	require.NoError(t, err)
	require.NoError(t, f.chats.TouchLastMessage(ctx, f.chat.ID, models.LastMessage{
		MessageID: m.ID, Text: m.Content, SenderID: from.ID, Time: m.CreatedAt,
	}))
	return m
}

func (f *fixture) reloadChat(t *testing.T) *models.Chat {
	t.Helper()
	c, err := f.chats.Get(context.Background(), f.chat.ID)
	require.NoError(t, err)
	return c
}

func TestChatListUsesContactNameAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.alice, f.bob, "hi")

	forBob, err := f.resolver.ChatList(ctx, f.bob, 20)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "hi", forBob[0].LastMessage)
	assert.EqualValues(t, 1, forBob[0].UnreadCount)
	assert.Equal(t, f.alice.Phone, forBob[0].User.Name)

	forAlice, err := f.resolver.ChatList(ctx, f.alice, 20)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, "Bobby", forAlice[0].User.Name)
	assert.Zero(t, forAlice[0].UnreadCount)

	_, err = f.messages.MarkAllRead(ctx, f.chat.ID, f.bob.ID)
	require.NoError(t, err)
	forBob, err = f.resolver.ChatList(ctx, f.bob, 20)
	require.NoError(t, err)
	assert.Zero(t, forBob[0].UnreadCount)
}

func TestSummaryIgnoresDeletedForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.send(t, f.alice, f.bob, "first")
	second := f.send(t, f.alice, f.bob, "oops")

	_, _, err := f.messages.DeleteForEveryone(ctx, second.ID, f.alice.ID)
	require.NoError(t, err)

	entry, err := f.resolver.Entry(ctx, f.reloadChat(t), f.bob, f.alice)
	require.NoError(t, err)
	assert.Equal(t, first.Content, entry.LastMessage)
	assert.EqualValues(t, 1, entry.UnreadCount)

	hist, err := f.resolver.History(ctx, f.reloadChat(t), f.bob.ID, visibility.Page{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.Tombstone, hist[1].Content)
}

func TestClearThenReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.bob, f.alice, "before")

	_, err := f.chats.SetClearWatermark(ctx, f.chat.ID, f.alice.ID)
	require.NoError(t, err)
	after := f.send(t, f.bob, f.alice, "after")

	hist, err := f.resolver.History(ctx, f.reloadChat(t), f.alice.ID, visibility.Page{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, after.ID, hist[0].ID)

	hist, err = f.resolver.History(ctx, f.reloadChat(t), f.bob.ID, visibility.Page{})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestEmptyChatEntry(t *testing.T) {
	f := newFixture(t)
	entry, err := f.resolver.Entry(context.Background(), f.chat, f.alice, f.bob)
	require.NoError(t, err)
	assert.Empty(t, entry.LastMessage)
	assert.Nil(t, entry.LastMessageTime)
	assert.Zero(t, entry.UnreadCount)
}

func TestHistoryRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.History(ctx, f.chat, "mallory", visibility.Page{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.resolver.History(ctx, nil, f.alice.ID, visibility.Page{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestUnreadCountMatchesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.alice, f.bob, "one")
	f.send(t, f.alice, f.bob, "two")

	n, err := f.resolver.UnreadCount(ctx, f.reloadChat(t), f.bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	entry, err := f.resolver.Entry(ctx, f.reloadChat(t), f.bob, f.alice)
	require.NoError(t, err)
	assert.Equal(t, n, entry.UnreadCount)

	_, err = f.chats.SetClearWatermark(ctx, f.chat.ID, f.bob.ID)
	require.NoError(t, err)
	n, err = f.resolver.UnreadCount(ctx, f.reloadChat(t), f.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.resolver.UnreadCount(ctx, f.reloadChat(t), f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "own messages are never unread")
}
