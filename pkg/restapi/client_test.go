package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

type captured struct {
	method, path, query, auth string
	body                      []byte
}

func envelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIResponse{Code: status, Message: "success", Data: raw, Timestamp: 1})
}

type recorder struct {
	mu    sync.Mutex
	calls []captured
}

func (r *recorder) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.calls...)
}

func server(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, captured{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), body})
		rec.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/api", Token: "user-1", Timeout: 2 * time.Second}), rec
}

func TestFetchMessagesDecodesPage(t *testing.T) {
	c, calls := server(t, func(w http.ResponseWriter, r *http.Request) {
		envelope(t, w, 200, models.Page[models.Message]{
			Items:      []models.Message{{ID: "m1", ConversationID: "chat-1", Content: "hi", CreatedAt: 5}},
			Pagination: models.Pagination{Page: 1, Limit: 50, Total: 1},
		})
	})
	page, err := c.FetchMessages(context.Background(), "chat-1", models.PageQuery{Page: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m1", page.Items[0].ID)
	assert.Equal(t, 1, page.Pagination.Total)

	got := calls.all()[0]
	assert.Equal(t, "GET", got.method)
	assert.Equal(t, "/api/chats/chat-1/messages", got.path)
	assert.Contains(t, got.query, "limit=50")
	assert.Contains(t, got.query, "page=1")
	assert.Equal(t, "Bearer user-1", got.auth)
}

func TestSendMessagePostsBody(t *testing.T) {
	c, calls := server(t, func(w http.ResponseWriter, r *http.Request) {
		envelope(t, w, 201, models.Message{ID: "msg-9", ConversationID: "chat-1", Content: "yo", Status: models.StatusSent})
	})
	m, err := c.SendMessage(context.Background(), "chat-1", models.SendRequest{Content: "yo", Type: models.TypeText})
	require.NoError(t, err)
	assert.Equal(t, "msg-9", m.ID)

	var body models.SendRequest
	require.NoError(t, json.Unmarshal(calls.all()[0].body, &body))
	assert.Equal(t, "yo", body.Content)
	assert.Equal(t, "POST", calls.all()[0].method)
}

func TestEditDeleteMarkReadSearch(t *testing.T) {
	c, calls := server(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			envelope(t, w, 200, models.Message{ID: "m1", Content: "edited"})
		case http.MethodDelete:
			envelope(t, w, 200, nil)
		default:
			envelope(t, w, 200, models.Page[models.Message]{Items: []models.Message{{ID: "m1"}}})
		}
	})
	ctx := context.Background()
	m, err := c.EditMessage(ctx, "m1", "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", m.Content)
	require.NoError(t, c.DeleteMessage(ctx, "m1"))
	require.NoError(t, c.MarkRead(ctx, "chat-1", "m1"))
	res, err := c.SearchMessages(ctx, "chat-1", "hello world", 50)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	require.Len(t, calls.all(), 4)
	assert.Equal(t, "/api/messages/m1", calls.all()[0].path)
	assert.Equal(t, "DELETE", calls.all()[1].method)
	assert.Equal(t, "/api/chats/chat-1/mark-read", calls.all()[2].path)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(calls.all()[2].body))
	assert.Equal(t, "/api/chats/chat-1/messages/search", calls.all()[3].path)
	assert.Contains(t, calls.all()[3].query, "query=hello")
}

func TestErrorEnvelope(t *testing.T) {
	c, _ := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.APIResponse{Code: 404, Message: "chat not found"})
	})
	_, err := c.GetConversation(context.Background(), "nope")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "chat not found", apiErr.Message)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	c, _ := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.DeleteMessage(context.Background(), "m1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestCancelledContext(t *testing.T) {
	c, calls := server(t, func(w http.ResponseWriter, r *http.Request) {
		envelope(t, w, 200, nil)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Profile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls.all())
}

func TestCancelAbortsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		envelope(t, w, 200, nil)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	c := New(Options{BaseURL: srv.URL + "/api", Token: "user-1", Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err := c.Profile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
