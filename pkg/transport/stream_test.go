package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

type wsServer struct {
	srv      *httptest.Server
	accepted atomic.Int32
	mu       sync.Mutex
	received []models.Envelope
	tokens   []string
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{conns: make(chan *websocket.Conn, 4)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.accepted.Add(1)
		ws.mu.Lock()
		ws.tokens = append(ws.tokens, r.URL.Query().Get("token"))
		ws.mu.Unlock()
		ws.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if json.Unmarshal(raw, &env) == nil {
				ws.mu.Lock()
				ws.received = append(ws.received, env)
				ws.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http") + "/ws"
}

func (ws *wsServer) frames() []models.Envelope {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]models.Envelope(nil), ws.received...)
}

func startStream(t *testing.T, ws *wsServer) (*Stream, context.CancelFunc) {
	t.Helper()
	s := NewStream(Options{
		URL:              ws.url(),
		Token:            "user-1",
		PingInterval:     time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, cancel
}

func TestStreamDispatchesByType(t *testing.T) {
	ws := newWSServer(t)
	s, _ := startStream(t, ws)

	var mu sync.Mutex
	var got []models.EventType
	s.Subscribe(models.EventNewMessage, func(e models.Envelope) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	var all atomic.Int32
	s.SubscribeAll(func(models.Envelope) { all.Add(1) })

	conn := <-ws.conns
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_message","data":{"message_id":"m1"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing_start","data":{"chat_id":"c1","user_id":"u2"}}`)))

	assert.Eventually(t, func() bool { return all.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []models.EventType{models.EventNewMessage}, got)
	mu.Unlock()

	ws.mu.Lock()
	assert.Equal(t, []string{"user-1"}, ws.tokens)
	ws.mu.Unlock()
}

func TestStreamSendTyping(t *testing.T) {
	ws := newWSServer(t)
	s, _ := startStream(t, ws)
	<-ws.conns
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SendTyping("chat-1", true))
	require.NoError(t, s.SendTyping("chat-1", false))
	require.Eventually(t, func() bool { return len(ws.frames()) == 2 }, 2*time.Second, 10*time.Millisecond)

	frames := ws.frames()
	assert.Equal(t, models.EventTypingStart, frames[0].Type)
	assert.Equal(t, models.EventTypingStop, frames[1].Type)
	var ev models.TypingEvent
	require.NoError(t, frames[0].Decode(&ev))
	assert.Equal(t, "chat-1", ev.ChatID)
}

func TestStreamReconnects(t *testing.T) {
	ws := newWSServer(t)
	s, _ := startStream(t, ws)

	var states []State
	var mu sync.Mutex
	s.OnState(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	first := <-ws.conns
	first.Close()
	second := <-ws.conns
	defer second.Close()

	assert.Equal(t, int32(2), ws.accepted.Load())
	assert.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Contains(t, states, StateDisconnected)
	mu.Unlock()
}

func TestSendWithoutConnection(t *testing.T) {
	s := NewStream(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, s.SendTyping("c1", true), ErrNotConnected)
}
