package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessageKeyRoundTrip(t *testing.T) {
	key := msgKey("chat-1", 1700000000123, 42)
	assert.Equal(t, "c:chat-1:m:00000001700000000123:000042", key)
	chat, ts, err := parseMsgKey(key)
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chat)
	assert.Equal(t, int64(1700000000123), ts)

	_, _, err = parseMsgKey("u:user-1")
	assert.Error(t, err)
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("c:chat-1:m;"), upperBound("c:chat-1:m:"))
	assert.Equal(t, []byte("b"), upperBound("a\xff"))
}

func TestChatsAndMessages(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutUser(models.Participant{UserID: "user-1", Name: "Me"}))
	require.NoError(t, db.PutUser(models.Participant{UserID: "user-2", Name: "Alice"}))
	require.NoError(t, db.PutChat(Chat{ID: "chat-1", Kind: models.KindPrivate, Members: []string{"user-1", "user-2"}, UpdatedAt: 1}))
	require.NoError(t, db.PutChat(Chat{ID: "chat-2", Kind: models.KindGroup, Members: []string{"user-1"}, UpdatedAt: 2}))

	empty, err := db.Empty()
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, db.AppendMessage(models.Message{ID: "m2", ConversationID: "chat-1", SenderID: "user-2", Content: "second", CreatedAt: 200}))
	require.NoError(t, db.AppendMessage(models.Message{ID: "m1", ConversationID: "chat-1", SenderID: "user-1", Content: "first", CreatedAt: 100}))
	require.NoError(t, db.AppendMessage(models.Message{ID: "m3", ConversationID: "chat-1", SenderID: "user-2", Content: "third", CreatedAt: 300}))

	msgs, err := db.Messages("chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[2].ID)

	last, err := db.LastMessage("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "m3", last.ID)
	none, err := db.LastMessage("chat-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	chats, err := db.ChatsFor("user-1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "chat-1", chats[0].ID, "touched by the newest message")
	chats, err = db.ChatsFor("user-2")
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	n, err := db.Unread("chat-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, db.SetReadMarker("chat-1", "user-1", 200))
	n, _ = db.Unread("chat-1", "user-1")
	assert.Equal(t, 1, n)

	edited, err := db.UpdateMessage("m2", func(m *models.Message) error {
		m.Content = "edited"
		m.EditedAt = 250
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Content)
	got, err := db.Message("m2")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)

	_, err = db.DeleteMessage("m2")
	require.NoError(t, err)
	_, err = db.Message("m2")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, _ = db.Messages("chat-1")
	assert.Len(t, msgs, 2)
}

func TestRejectsColonIDs(t *testing.T) {
	db := openTemp(t)
	assert.Error(t, db.PutUser(models.Participant{UserID: "a:b"}))
	assert.Error(t, db.PutChat(Chat{ID: "c:1"}))
}

func TestUserStatus(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutUser(models.Participant{UserID: "user-2", Status: models.UserOffline}))
	u, err := db.SetUserStatus("user-2", models.UserOnline, 0)
	require.NoError(t, err)
	assert.Equal(t, models.UserOnline, u.Status)
	_, err = db.SetUserStatus("ghost", models.UserOnline, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
