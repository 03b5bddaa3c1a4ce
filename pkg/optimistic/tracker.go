// Package optimistic keeps the ledger of sends the server has not confirmed
// yet. Each outgoing message is shown immediately under a locally generated
// provisional id and later collapsed onto the canonical message the server
// assigns, whichever of the REST response or the stream echo arrives first.
//
// All methods must be called on the loop the Tracker was built with.
package optimistic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/loop"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNoConversation = errors.New("unknown conversation")
	// ErrProvisional rejects edits and deletes of messages the server has
	// not confirmed yet.
	ErrProvisional = errors.New("message is not confirmed yet")
	ErrNotFailed   = errors.New("send has not failed")
	ErrSendTimeout = errors.New("send not confirmed in time")
	ErrUnknownSend = errors.New("unknown provisional id")
)

// API is the REST surface the tracker writes through.
type API interface {
	SendMessage(ctx context.Context, convID string, req models.SendRequest) (models.Message, error)
	EditMessage(ctx context.Context, msgID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, msgID string) error
}

type state int

const (
	// statePending: provisional entry in the log, in the match queue.
	statePending state = iota
	// stateSettled: the stream echo replaced the provisional entry; the REST
	// response is still outstanding.
	stateSettled
	// stateFailed: entry shown as failed, waiting for Retry or Discard.
	stateFailed
	// stateDropped: the provisional entry was removed locally; any late
	// confirmation is ignored.
	stateDropped
)

type record struct {
	id          string
	convID      string
	msg         models.Message
	submittedAt time.Time
	state       state
	canonicalID string
	attempt     int
}

// Failure is published when a send ends up in the failed state.
type Failure struct {
	ProvisionalID  string
	ConversationID string
	Err            error
}

type Config struct {
	Self           models.Participant
	SendTimeout    time.Duration
	PendingTimeout time.Duration
	// NewID generates provisional ids; uuid strings by default.
	NewID   func() string
	Metrics *metrics.Sync
}

type Tracker struct {
	ctx   context.Context
	store *chatstore.Store
	api   API
	exec  loop.Executor
	cfg   Config

	records map[string]*record
	// per-conversation match queue of pending provisional ids, oldest first
	queues map[string][]string

	failures notify.Hub[Failure]
	sub      *notify.Subscription
}

func New(ctx context.Context, st *chatstore.Store, api API, exec loop.Executor, cfg Config) *Tracker {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 2 * cfg.SendTimeout
	}
	t := &Tracker{
		ctx:     ctx,
		store:   st,
		api:     api,
		exec:    exec,
		cfg:     cfg,
		records: make(map[string]*record),
		queues:  make(map[string][]string),
	}
	t.sub = st.Subscribe(t.onStoreChange)
	return t
}

// Close detaches the tracker from the store.
func (t *Tracker) Close() {
	t.sub.Release()
}

// OnFailure registers fn for sends that enter the failed state.
func (t *Tracker) OnFailure(fn func(Failure)) *notify.Subscription {
	return t.failures.Subscribe(fn)
}

// BeginSend shows the message under a fresh provisional id and issues the
// send request in the background. It returns the provisional id at once.
func (t *Tracker) BeginSend(convID, content, replyTo string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if _, ok := t.store.Conversation(convID); !ok {
		return "", ErrNoConversation
	}
	now := t.exec.Now()
	id := t.cfg.NewID()
	msg := models.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       t.cfg.Self.UserID,
		SenderName:     t.cfg.Self.Name,
		SenderAvatar:   t.cfg.Self.AvatarURL,
		Content:        content,
		Type:           models.TypeText,
		Status:         models.StatusSending,
		ReplyTo:        replyTo,
		CreatedAt:      now.UnixMilli(),
	}
	t.store.AppendOrMerge(convID, msg, chatstore.Silent())

	rec := &record{id: id, convID: convID, msg: msg, submittedAt: now}
	t.records[id] = rec
	t.enqueue(rec)
	t.updatePending()
	logger.Debug("send_started", "provisional_id", id, "chat_id", convID)
	t.send(rec)
	return id, nil
}

func (t *Tracker) send(rec *record) {
	rec.attempt++
	attempt := rec.attempt
	id, convID := rec.id, rec.convID
	req := models.SendRequest{Content: rec.msg.Content, Type: rec.msg.Type, ReplyTo: rec.msg.ReplyTo}
	t.exec.Spawn(func() {
		ctx, cancel := t.callContext()
		m, err := t.api.SendMessage(ctx, convID, req)
		cancel()
		t.exec.Post(func() {
			if err != nil {
				if cur := t.records[id]; cur != nil && cur.attempt != attempt {
					logger.Debug("send_stale_failure_ignored", "provisional_id", id, "attempt", attempt)
					return
				}
				t.fail(id, err)
				return
			}
			t.Resolve(id, m)
		})
	})
}

func (t *Tracker) enqueue(rec *record) {
	q := t.queues[rec.convID]
	// keep submission order; retries re-enter by their new submission time
	i := len(q)
	for i > 0 {
		prev := t.records[q[i-1]]
		if prev == nil || !prev.submittedAt.After(rec.submittedAt) {
			break
		}
		i--
	}
	q = append(q, "")
	copy(q[i+1:], q[i:])
	q[i] = rec.id
	t.queues[rec.convID] = q
}

func (t *Tracker) dequeue(rec *record) {
	q := t.queues[rec.convID]
	for i, id := range q {
		if id == rec.id {
			q = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(t.queues, rec.convID)
		return
	}
	t.queues[rec.convID] = q
}

func (t *Tracker) updatePending() {
	n := 0
	for _, rec := range t.records {
		if rec.state == statePending {
			n++
		}
	}
	t.cfg.Metrics.SetPending(n)
}

// IsProvisional reports whether id names a message the server has not
// confirmed (pending or failed).
func (t *Tracker) IsProvisional(id string) bool {
	rec := t.records[id]
	return rec != nil && (rec.state == statePending || rec.state == stateFailed)
}

// IsFailed reports whether id names a failed send.
func (t *Tracker) IsFailed(id string) bool {
	rec := t.records[id]
	return rec != nil && rec.state == stateFailed
}

// Pending returns the conversation's unconfirmed provisional ids, oldest
// first.
func (t *Tracker) Pending(convID string) []string {
	return append([]string(nil), t.queues[convID]...)
}

// Outstanding counts records still waiting on the server.
func (t *Tracker) Outstanding() int {
	n := 0
	for _, rec := range t.records {
		if rec.state == statePending || rec.state == stateSettled {
			n++
		}
	}
	return n
}

func (t *Tracker) onStoreChange(c chatstore.Change) {
	switch c.Kind {
	case chatstore.LogCleared, chatstore.ConversationRemoved:
		for _, rec := range t.records {
			if rec.convID == c.ConversationID && rec.state != stateSettled {
				t.drop(rec)
			}
		}
	case chatstore.MessageRemoved:
		if rec := t.records[c.MessageID]; rec != nil && rec.state != stateSettled {
			t.drop(rec)
		}
	}
}

func (t *Tracker) drop(rec *record) {
	if rec.state == stateDropped {
		return
	}
	if rec.state == statePending {
		t.dequeue(rec)
	}
	rec.state = stateDropped
	t.cfg.Metrics.SendOutcome(metrics.SendDropped)
	t.updatePending()
	logger.Debug("send_dropped", "provisional_id", rec.id, "chat_id", rec.convID)
}
