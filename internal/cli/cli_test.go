package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/mockserver"
	"chatsync/pkg/mockserver/storage"
	"chatsync/pkg/models"
)

// startMock serves a seeded mock backend and points the environment at it.
func startMock(t *testing.T) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mockserver.Seed(db, time.Now()))
	srv := mockserver.New(db, mockserver.Options{StatusDelay: 10 * time.Millisecond})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		db.Close()
	})

	t.Setenv("CHATSYNC_CONFIG", "")
	t.Setenv("CHATSYNC_USER_ID", "user-1")
	t.Setenv("CHATSYNC_API_URL", hs.URL+"/api")
	t.Setenv("CHATSYNC_STREAM_URL", "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws")
	t.Setenv("CHATSYNC_SEARCH_DEBOUNCE", "10ms")
	t.Setenv("CHATSYNC_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath, output, noColor, verbose, timeout = "chatsync.yaml", string(FormatTable), false, false, 10*time.Second
	chatsUnread, logLimit, sendReplyTo, sendNoWait, tailEvents = false, 0, "", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestChatsJSON(t *testing.T) {
	startMock(t)
	out, err := run(t, "chats", "-o", "json")
	require.NoError(t, err)

	var convs []models.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &convs))
	require.Len(t, convs, 4)
	byID := map[string]models.Conversation{}
	for _, c := range convs {
		byID[c.ID] = c
	}
	assert.Equal(t, 1, byID["chat-1"].UnreadCount)
	assert.Equal(t, models.KindGroup, byID["chat-3"].Kind)
	require.NotNil(t, byID["chat-1"].LastMessage)
	assert.Equal(t, "seed-3", byID["chat-1"].LastMessage.ID)
}

func TestChatsTable(t *testing.T) {
	startMock(t)
	out, err := run(t, "chats", "--unread")
	require.NoError(t, err)
	assert.Contains(t, out, "UNREAD")
	assert.Contains(t, out, "Project Team")
	assert.Contains(t, out, "Alice Johnson: Great, I will bring the notes.")
}

func TestLogMarksRead(t *testing.T) {
	startMock(t)
	out, err := run(t, "log", "chat-1", "-o", "yaml", "-n", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "seed-1")
	assert.Contains(t, out, "message_id: seed-2")
	assert.Contains(t, out, "message_id: seed-3")

	out, err = run(t, "chats", "-o", "json")
	require.NoError(t, err)
	var convs []models.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &convs))
	for _, c := range convs {
		if c.ID == "chat-1" {
			assert.Zero(t, c.UnreadCount)
		}
	}
}

func TestLogUnknownConversation(t *testing.T) {
	startMock(t)
	_, err := run(t, "log", "chat-404")
	assert.Error(t, err)
}

func TestSendPrintsConfirmedMessage(t *testing.T) {
	startMock(t)
	out, err := run(t, "send", "chat-2", "-o", "json", "looks", "good", "to", "me")
	require.NoError(t, err)

	var m models.Message
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.True(t, strings.HasPrefix(m.ID, "msg-"), m.ID)
	assert.Equal(t, "looks good to me", m.Content)
	assert.Equal(t, "user-1", m.SenderID)
	assert.NotEqual(t, models.StatusSending, m.Status)
	assert.NotEqual(t, models.StatusFailed, m.Status)

	out, err = run(t, "log", "chat-2", "-o", "json")
	require.NoError(t, err)
	var log []models.Message
	require.NoError(t, json.Unmarshal([]byte(out), &log))
	require.Len(t, log, 2)
	assert.Equal(t, m.ID, log[1].ID)
}

func TestSearchHighlightsRemoteResults(t *testing.T) {
	startMock(t)
	out, err := run(t, "search", "chat-1", "notes")
	require.NoError(t, err)
	assert.Contains(t, out, `query "notes" in chat-1: 1 result(s), remote`)
	assert.Contains(t, out, "bring the [notes]")
}

func TestBadOutputFormat(t *testing.T) {
	startMock(t)
	_, err := run(t, "chats", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}
