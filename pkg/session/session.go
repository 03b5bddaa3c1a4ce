// Package session wires the sync core to its collaborators. Every component
// runs on one loop.Loop; the exported methods are safe to call from any
// goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/loop"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
	"chatsync/pkg/optimistic"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/restapi"
	"chatsync/pkg/search"
	"chatsync/pkg/selector"
	"chatsync/pkg/transport"
)

var ErrClosed = errors.New("session closed")

type options struct {
	registerer prometheus.Registerer
	noStream   bool
}

type Option func(*options)

// WithRegisterer registers the sync metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithoutStream skips the event stream; the session then only sees its own
// REST results.
func WithoutStream() Option {
	return func(o *options) { o.noStream = true }
}

type Session struct {
	cfg     *config.Config
	self    models.Participant
	metrics *metrics.Sync

	loop   *loop.Loop
	api    *restapi.Client
	stream *transport.Stream

	store      *chatstore.Store
	tracker    *optimistic.Tracker
	presence   *reconcile.Presence
	reconciler *reconcile.Reconciler
	selector   *selector.Selector
	overlay    *search.Overlay
	typing     *transport.TypingNotifier

	// loop-owned
	fetching map[string]bool
	sweep    func() bool

	subs      notify.Group
	events    *notify.Group
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open resolves the local identity, loads the conversation list and starts
// the loop and the event stream.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	token := cfg.API.Token
	if token == "" {
		token = cfg.User.ID
	}
	api := restapi.New(restapi.Options{
		BaseURL:         cfg.API.BaseURL,
		Token:           token,
		Timeout:         cfg.API.Timeout.Duration(),
		MaxResponseSize: int(cfg.API.MaxResponseSize.Int64()),
	})

	self := models.Participant{UserID: cfg.User.ID, Name: cfg.User.Name, AvatarURL: cfg.User.Avatar}
	if self.UserID == "" || self.Name == "" {
		p, err := api.Profile(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve profile: %w", err)
		}
		if self.UserID == "" {
			self = p
		} else {
			self.Name = p.Name
		}
	}
	logger.Info("session_identity", "user_id", self.UserID, "name", self.Name)

	m := metrics.New(o.registerer)
	runCtx, cancel := context.WithCancel(context.Background())
	l := loop.New()
	st := chatstore.New(chatstore.WithSelf(self.UserID))

	s := &Session{
		cfg:      cfg,
		self:     self,
		metrics:  m,
		loop:     l,
		api:      api,
		store:    st,
		fetching: make(map[string]bool),
		cancel:   cancel,
	}
	s.tracker = optimistic.New(runCtx, st, api, l, optimistic.Config{
		Self:           self,
		SendTimeout:    cfg.Sync.SendTimeout.Duration(),
		PendingTimeout: cfg.Sync.PendingTimeout.Duration(),
		Metrics:        m,
	})
	s.presence = reconcile.NewPresence(cfg.Sync.TypingTTL.Duration())
	s.reconciler = reconcile.New(st, s.tracker, s.presence, m, l.Now)
	s.reconciler.OnUnknownConversation(s.fetchConversation)
	s.selector = selector.New(runCtx, st, api, l, m, cfg.Sync.LogPageLimit)
	s.selector.SetPending(s.tracker)
	s.overlay = search.New(runCtx, st, api, l, search.Config{
		Debounce: cfg.Search.Debounce.Duration(),
		Limit:    cfg.Search.Limit,
		Metrics:  m,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = l.Run(runCtx)
	}()

	if err := s.RefreshConversations(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if !o.noStream {
		s.stream = transport.NewStream(transport.Options{
			URL:              cfg.Stream.URL,
			Token:            token,
			ReadLimit:        cfg.Stream.ReadLimit.Int64(),
			PingInterval:     cfg.Stream.PingInterval.Duration(),
			ReconnectInitial: cfg.Stream.Reconnect.Initial.Duration(),
			ReconnectMax:     cfg.Stream.Reconnect.Max.Duration(),
			Metrics:          m,
		})
		s.events = s.reconciler.Attach(s.stream, l.Post)
		s.subs.Add(s.stream.OnState(func(state transport.State) {
			if state == transport.StateConnected {
				// events may have been missed while disconnected
				go func() {
					if err := s.RefreshConversations(runCtx); err != nil && runCtx.Err() == nil {
						logger.Warn("refresh_after_reconnect_failed", "error", err)
					}
				}()
			}
		}))
		s.typing = transport.NewTypingNotifier(s.stream, l, cfg.Stream.TypingIdle.Duration(), cfg.Stream.TypingRate)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.stream.Run(runCtx)
		}()
	}

	s.subs.Add(s.tracker.OnFailure(func(f optimistic.Failure) {
		logger.Warn("send_failed", "provisional_id", f.ProvisionalID, "chat_id", f.ConversationID, "error", f.Err)
	}))
	l.Post(s.armSweep)
	return s, nil
}

func (s *Session) armSweep() {
	interval := s.cfg.Sync.SweepInterval.Duration()
	if interval <= 0 {
		return
	}
	s.sweep = s.loop.After(interval, func() {
		now := s.loop.Now()
		if n := s.tracker.Expire(now); n > 0 {
			logger.Debug("sweep_expired_sends", "count", n)
		}
		s.presence.Expire(now)
		s.armSweep()
	})
}

// fetchConversation loads the summary of a conversation first seen through
// an event. Runs on the loop.
func (s *Session) fetchConversation(convID string) {
	if s.fetching[convID] {
		return
	}
	s.fetching[convID] = true
	s.loop.Spawn(func() {
		conv, err := s.api.GetConversation(context.Background(), convID)
		s.loop.Post(func() {
			delete(s.fetching, convID)
			if err != nil {
				s.metrics.CollaboratorFailure("get_conversation")
				logger.Warn("fetch_conversation_failed", "chat_id", convID, "error", err)
				return
			}
			s.store.UpsertConversation(conv)
		})
	})
}

const closeGrace = 2 * time.Second

// Close stops the stream and the loop. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.loop.Do(context.Background(), func() {
			if s.typing != nil {
				s.typing.StopAll()
			}
			if s.sweep != nil {
				s.sweep()
			}
			s.subs.Release()
			if s.events != nil {
				s.events.Release()
			}
			s.overlay.Close()
			s.tracker.Close()
		})
		// requests already on the wire (sends, mark-read) get a bounded
		// chance to land before their context is cancelled
		wctx, wcancel := context.WithTimeout(context.Background(), closeGrace)
		if err := s.loop.Wait(wctx); err != nil {
			logger.Warn("session_close_requests_abandoned", "error", err)
		}
		wcancel()
		s.cancel()
		s.wg.Wait()
		logger.Info("session_closed", "user_id", s.self.UserID)
	})
}
