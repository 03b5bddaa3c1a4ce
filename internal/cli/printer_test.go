package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/search"
)

func sampleMessages() []models.Message {
	now := time.Now().UnixMilli()
	return []models.Message{
		{ID: "m1", ConversationID: "c1", SenderName: "Alice", Content: "see you at ten", Status: models.StatusRead, CreatedAt: now - 60_000},
		{ID: "m2", ConversationID: "c1", SenderName: "Me", Content: "bring the notes", Status: models.StatusSending, EditedAt: now, ReplyTo: "m1", CreatedAt: now},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestMessagesTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Messages(sampleMessages()))
	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "see you at ten")
	assert.Contains(t, out, "bring the notes (edited)")
	assert.Contains(t, out, "↪ m1")
	assert.Contains(t, out, "minute ago")
	assert.NotContains(t, out, "\x1b[")
}

func TestMessagesJSONKeepsWireNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Messages(sampleMessages()))
	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0]["message_id"])
	assert.Equal(t, "c1", got[0]["chat_id"])
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Conversations(nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestConversationsYAML(t *testing.T) {
	last := sampleMessages()[0]
	convs := []models.Conversation{{ID: "c1", Kind: models.KindPrivate, Name: "Alice", UnreadCount: 2, LastMessage: &last}}
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Conversations(convs))
	out := buf.String()
	assert.Contains(t, out, "chat_id: c1")
	assert.Contains(t, out, "unread_count: 2")
	assert.Contains(t, out, "last_message:")
}

func TestSearchViewHighlights(t *testing.T) {
	msgs := sampleMessages()
	v := search.View{ConversationID: "c1", Query: "notes", Source: search.SourceLocal}
	v.Items = append(v.Items, search.Item{Message: msgs[1], Spans: search.Highlight(msgs[1].Content, "notes")})

	var plain bytes.Buffer
	require.NoError(t, NewPrinter(&plain, FormatTable, false).SearchView(v))
	assert.Contains(t, plain.String(), "bring the [notes]")
	assert.Contains(t, plain.String(), `query "notes" in c1: 1 result(s), local`)

	var color bytes.Buffer
	require.NoError(t, NewPrinter(&color, FormatTable, true).SearchView(v))
	assert.Contains(t, color.String(), ansiBold+"notes"+ansiReset)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "a b", clip("a\nb", 10))
	assert.Equal(t, "Grüß…", clip("Grüße aus Berlin", 5))
}
