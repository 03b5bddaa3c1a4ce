// Package transport is the event-stream collaborator. Stream keeps one
// websocket open to the server, reconnecting with exponential backoff, and
// fans incoming {type, data} frames out to per-type subscribers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

var ErrNotConnected = errors.New("stream not connected")

const writeWait = 10 * time.Second

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

type Options struct {
	URL              string
	Token            string
	ReadLimit        int64
	PingInterval     time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Metrics          *metrics.Sync
	Dialer           *websocket.Dialer
}

type Stream struct {
	opts Options

	mu     sync.RWMutex
	hubs   map[models.EventType]*notify.Hub[models.Envelope]
	all    notify.Hub[models.Envelope]
	states notify.Hub[State]

	connected atomic.Bool
	outMu     sync.Mutex
	out       chan []byte
}

func NewStream(o Options) *Stream {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	return &Stream{opts: o, hubs: make(map[models.EventType]*notify.Hub[models.Envelope])}
}

// Subscribe registers fn for frames of type t. Handlers run on the read
// goroutine.
func (s *Stream) Subscribe(t models.EventType, fn func(models.Envelope)) *notify.Subscription {
	s.mu.Lock()
	h := s.hubs[t]
	if h == nil {
		h = &notify.Hub[models.Envelope]{}
		s.hubs[t] = h
	}
	s.mu.Unlock()
	return h.Subscribe(fn)
}

// SubscribeAll registers fn for every well-formed frame.
func (s *Stream) SubscribeAll(fn func(models.Envelope)) *notify.Subscription {
	return s.all.Subscribe(fn)
}

func (s *Stream) OnState(fn func(State)) *notify.Subscription {
	return s.states.Subscribe(fn)
}

func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Send queues one frame on the current connection.
func (s *Stream) Send(t models.EventType, payload any) error {
	env, err := models.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.out == nil {
		return ErrNotConnected
	}
	select {
	case s.out <- raw:
		return nil
	default:
		return fmt.Errorf("send %s: outbound queue full", t)
	}
}

// SendTyping emits typing_start or typing_stop for convID.
func (s *Stream) SendTyping(convID string, typing bool) error {
	t := models.EventTypingStop
	if typing {
		t = models.EventTypingStart
	}
	return s.Send(t, models.TypingEvent{ChatID: convID})
}

// Run keeps the stream connected until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectInitial
	b.MaxInterval = s.opts.ReconnectMax
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(b, ctx)

	for {
		s.states.Publish(StateConnecting)
		up, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if up {
			b.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		s.opts.Metrics.CollaboratorFailure("stream")
		logger.Warn("stream_disconnected", "error", err, "retry_in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Stream) dialURL() (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", err
	}
	if s.opts.Token != "" {
		q := u.Query()
		q.Set("token", s.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// connectOnce runs one connection to completion. up reports whether the
// handshake succeeded.
func (s *Stream) connectOnce(ctx context.Context) (up bool, err error) {
	target, err := s.dialURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, target, header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	logger.Info("stream_connected", "url", s.opts.URL)

	out := make(chan []byte, 64)
	s.outMu.Lock()
	s.out = out
	s.outMu.Unlock()
	s.connected.Store(true)
	s.states.Publish(StateConnected)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer wg.Done()
		s.writePump(conn, out, done)
	}()

	err = s.readPump(conn)

	s.outMu.Lock()
	s.out = nil
	s.outMu.Unlock()
	s.connected.Store(false)
	close(done)
	_ = conn.Close()
	wg.Wait()
	s.states.Publish(StateDisconnected)
	return true, err
}

func (s *Stream) readPump(conn *websocket.Conn) error {
	pongWait := s.opts.PingInterval * 2
	conn.SetReadLimit(s.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(raw)
	}
}

func (s *Stream) writePump(conn *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case raw := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Debug("stream_write_failed", "error", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Stream) dispatch(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		if err == nil {
			err = errors.New("missing type")
		}
		s.opts.Metrics.EventDropped("unknown", "frame")
		logger.Warn("stream_frame_dropped", "error", err, "size", len(raw))
		return
	}
	s.mu.RLock()
	h := s.hubs[env.Type]
	s.mu.RUnlock()
	if h != nil {
		h.Publish(env)
	}
	s.all.Publish(env)
}
