// Package selector tracks the focused conversation. Focusing a conversation
// clears its unread count and fetches its log the first time.
package selector

import (
	"context"
	"errors"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/loop"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

var ErrUnknownConversation = errors.New("unknown conversation")

type API interface {
	FetchMessages(ctx context.Context, convID string, q models.PageQuery) (models.Page[models.Message], error)
	MarkRead(ctx context.Context, convID, messageID string) error
}

// Pending is the ledger of sends awaiting confirmation. Claim settles
// those whose canonical message is in a fetched page.
type Pending interface {
	Claim(convID string, fetched []models.Message) int
}

// LoadResult is published when a log fetch finishes.
type LoadResult struct {
	ConversationID string
	Count          int
	Err            error
}

type Selector struct {
	ctx       context.Context
	store     *chatstore.Store
	api       API
	exec      loop.Executor
	metrics   *metrics.Sync
	pageLimit int
	pending   Pending

	inflight map[string]bool
	loads    notify.Hub[LoadResult]
}

func New(ctx context.Context, st *chatstore.Store, api API, exec loop.Executor, m *metrics.Sync, pageLimit int) *Selector {
	if pageLimit <= 0 {
		pageLimit = 50
	}
	return &Selector{
		ctx:       ctx,
		store:     st,
		api:       api,
		exec:      exec,
		metrics:   m,
		pageLimit: pageLimit,
		inflight:  make(map[string]bool),
	}
}

// SetPending installs the send ledger consulted before a fetched page is
// merged into the log.
func (s *Selector) SetPending(p Pending) {
	s.pending = p
}

// OnLoad registers fn for finished log fetches.
func (s *Selector) OnLoad(fn func(LoadResult)) *notify.Subscription {
	return s.loads.Subscribe(fn)
}

func (s *Selector) Active() string {
	return s.store.Active()
}

// Loading reports whether a log fetch for convID is in flight.
func (s *Selector) Loading(convID string) bool {
	return s.inflight[convID]
}

// Select focuses convID; "" clears the focus. The log is fetched when it
// has not been loaded yet, and the conversation is marked read locally and,
// best effort, on the server.
func (s *Selector) Select(convID string) error {
	if convID == "" {
		s.store.SetActive("")
		return nil
	}
	conv, ok := s.store.Conversation(convID)
	if !ok {
		return ErrUnknownConversation
	}
	s.store.SetActive(convID)
	if !s.store.LogLoaded(convID) {
		s.fetch(convID)
	}
	s.store.MarkRead(convID)

	var lastID string
	if conv.LastMessage != nil {
		lastID = conv.LastMessage.ID
	}
	s.exec.Spawn(func() {
		if err := s.api.MarkRead(s.ctx, convID, lastID); err != nil {
			s.metrics.CollaboratorFailure("mark_read")
			logger.Warn("mark_read_failed", "chat_id", convID, "error", err)
		}
	})
	return nil
}

// Refresh refetches the log of convID even when it is loaded.
func (s *Selector) Refresh(convID string) {
	s.fetch(convID)
}

func (s *Selector) fetch(convID string) {
	if s.inflight[convID] {
		return
	}
	s.inflight[convID] = true
	q := models.PageQuery{Page: 1, Limit: s.pageLimit}
	logger.Debug("fetch_log_started", "chat_id", convID)
	s.exec.Spawn(func() {
		page, err := s.api.FetchMessages(s.ctx, convID, q)
		s.exec.Post(func() {
			delete(s.inflight, convID)
			if err != nil {
				// keep whatever the log already shows
				s.metrics.CollaboratorFailure("fetch_messages")
				logger.Warn("fetch_log_failed", "chat_id", convID, "error", err)
				s.loads.Publish(LoadResult{ConversationID: convID, Err: err})
				return
			}
			if s.pending != nil {
				if n := s.pending.Claim(convID, page.Items); n > 0 {
					logger.Debug("fetch_log_settled_sends", "chat_id", convID, "count", n)
				}
			}
			s.store.LoadLog(convID, page.Items)
			logger.Debug("fetch_log_done", "chat_id", convID, "count", len(page.Items))
			s.loads.Publish(LoadResult{ConversationID: convID, Count: len(page.Items)})
		})
	})
}
