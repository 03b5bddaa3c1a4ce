// Package search layers a query over the active conversation's log. Remote
// search runs after a debounce; while it is pending or when it fails the
// log is filtered locally.
package search

import (
	"context"
	"strings"
	"time"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/loop"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

type Searcher interface {
	SearchMessages(ctx context.Context, convID, query string, limit int) ([]models.Message, error)
}

type Source string

const (
	SourceAll    Source = "all"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Item is a message with its highlight spans.
type Item struct {
	Message models.Message `json:"message"`
	Spans   []Span         `json:"spans,omitempty"`
}

type View struct {
	ConversationID string `json:"chat_id"`
	Query          string `json:"query"`
	Source         Source `json:"source"`
	Pending        bool   `json:"pending"`
	Items          []Item `json:"items"`
}

type Config struct {
	Debounce time.Duration
	Limit    int
	Metrics  *metrics.Sync
}

type Overlay struct {
	ctx   context.Context
	store *chatstore.Store
	api   Searcher
	exec  loop.Executor
	cfg   Config

	query    string
	gen      uint64
	cancel   func() bool
	inflight bool

	remote     []models.Message
	remoteConv string
	hasRemote  bool

	changes notify.Hub[string]
	sub     *notify.Subscription
}

func New(ctx context.Context, st *chatstore.Store, api Searcher, exec loop.Executor, cfg Config) *Overlay {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	o := &Overlay{ctx: ctx, store: st, api: api, exec: exec, cfg: cfg}
	o.sub = st.Subscribe(func(c chatstore.Change) {
		if c.Kind == chatstore.ActiveChanged {
			o.SetQuery("")
		}
	})
	return o
}

func (o *Overlay) Close() {
	o.sub.Release()
	o.stopTimer()
}

// Subscribe registers fn for query and result changes. It receives the
// current query.
func (o *Overlay) Subscribe(fn func(query string)) *notify.Subscription {
	return o.changes.Subscribe(fn)
}

func (o *Overlay) Query() string {
	return o.query
}

// SetQuery replaces the query. Any earlier debounce is cancelled and any
// result still in flight for an earlier query is ignored when it lands.
func (o *Overlay) SetQuery(q string) {
	if q == o.query && (o.cancel != nil || o.inflight || o.hasRemote) {
		return
	}
	o.gen++
	o.stopTimer()
	o.query = q
	o.inflight = false
	o.remote = nil
	o.remoteConv = ""
	o.hasRemote = false

	trimmed := strings.TrimSpace(q)
	conv := o.store.Active()
	if trimmed != "" && conv != "" {
		gen := o.gen
		o.cancel = o.exec.After(o.cfg.Debounce, func() {
			o.cancel = nil
			o.fire(gen, conv, trimmed)
		})
	}
	o.changes.Publish(q)
}

func (o *Overlay) stopTimer() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Overlay) current(gen uint64, conv string) bool {
	return gen == o.gen && conv == o.store.Active()
}

func (o *Overlay) fire(gen uint64, conv, query string) {
	if !o.current(gen, conv) {
		return
	}
	o.inflight = true
	limit := o.cfg.Limit
	logger.Debug("search_started", "chat_id", conv, "query", query)
	o.exec.Spawn(func() {
		res, err := o.api.SearchMessages(o.ctx, conv, query, limit)
		o.exec.Post(func() {
			if !o.current(gen, conv) {
				logger.Debug("search_result_stale", "chat_id", conv, "query", query)
				return
			}
			o.inflight = false
			if err != nil {
				o.cfg.Metrics.CollaboratorFailure("search")
				logger.Warn("search_failed", "chat_id", conv, "query", query, "error", err)
			} else {
				o.remote = res
				o.remoteConv = conv
				o.hasRemote = true
			}
			o.changes.Publish(o.query)
		})
	})
}

// View returns what the active conversation shows under the current query:
// the whole log for a blank query, the remote results when there are any,
// and the local filter otherwise.
func (o *Overlay) View() View {
	conv := o.store.Active()
	q := strings.TrimSpace(o.query)
	v := View{ConversationID: conv, Query: o.query, Pending: o.cancel != nil || o.inflight}
	if q == "" {
		v.Source = SourceAll
		for _, m := range o.store.GetLog(conv) {
			v.Items = append(v.Items, Item{Message: m})
		}
		return v
	}
	var msgs []models.Message
	if o.hasRemote && o.remoteConv == conv && len(o.remote) > 0 {
		v.Source = SourceRemote
		msgs = o.remote
	} else {
		v.Source = SourceLocal
		msgs = Filter(o.store.GetLog(conv), q)
	}
	for _, m := range msgs {
		v.Items = append(v.Items, Item{Message: m, Spans: Highlight(m.Content, q)})
	}
	o.cfg.Metrics.SearchServed(string(v.Source))
	return v
}
