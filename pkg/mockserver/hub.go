package mockserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// Hub tracks the open event streams per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	// inbound frames from clients
	onFrame func(userID string, env models.Envelope)
	// first connect / last disconnect of a user
	onPresence func(userID string, online bool)
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return len(set) == 1
}

func (h *Hub) leave(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

// Online reports whether userID has at least one open stream.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Send delivers one event to every stream of the given users.
func (h *Hub) Send(userIDs []string, t models.EventType, payload any) {
	env, err := models.NewEnvelope(t, payload)
	if err != nil {
		logger.Error("hub_encode_failed", "type", t, "error", err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range userIDs {
		for c := range h.clients[uid] {
			select {
			case c.send <- raw:
			default:
				logger.Warn("hub_client_slow", "user_id", uid)
			}
		}
	}
}

// Serve upgrades the request into an event stream for userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{hub: h, userID: userID, conn: conn, send: make(chan []byte, 256)}
	first := h.join(c)
	logger.Info("ws_client_joined", "user_id", userID)
	go c.writePump()
	h.Send([]string{userID}, models.EventConnected, models.ConnectedEvent{UserID: userID})
	if first && h.onPresence != nil {
		h.onPresence(userID, true)
	}
	c.readPump()
}

func (c *client) close() {
	c.once.Do(func() {
		last := c.hub.leave(c)
		close(c.send)
		_ = c.conn.Close()
		logger.Info("ws_client_left", "user_id", c.userID)
		if last && c.hub.onPresence != nil {
			c.hub.onPresence(c.userID, false)
		}
	})
}

func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			logger.Debug("ws_frame_invalid", "user_id", c.userID)
			continue
		}
		if c.hub.onFrame != nil {
			c.hub.onFrame(c.userID, env)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close drops every stream.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}
