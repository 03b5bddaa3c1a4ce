package session

import (
	"context"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
	"chatsync/pkg/optimistic"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/search"
	"chatsync/pkg/selector"
)

func (s *Session) Self() models.Participant {
	return s.self
}

// Conversations returns the summaries, most recently updated first.
func (s *Session) Conversations() []models.Conversation {
	return s.store.ListConversations()
}

// Log returns the message log of convID in display order.
func (s *Session) Log(convID string) []models.Message {
	return s.store.GetLog(convID)
}

func (s *Session) Active() string {
	return s.store.Active()
}

// Presence exposes user status and typing state. It is safe for concurrent
// reads.
func (s *Session) Presence() *reconcile.Presence {
	return s.presence
}

// Subscribe registers fn for store changes. fn runs on the session loop and
// must not block.
func (s *Session) Subscribe(fn func(chatstore.Change)) *notify.Subscription {
	return s.store.Subscribe(fn)
}

// OnFailure registers fn for sends that failed. fn runs on the session loop.
func (s *Session) OnFailure(fn func(optimistic.Failure)) *notify.Subscription {
	return s.tracker.OnFailure(fn)
}

// OnEvent registers fn for every raw event frame. It returns nil when the
// session runs without a stream.
func (s *Session) OnEvent(fn func(models.Envelope)) *notify.Subscription {
	if s.stream == nil {
		return nil
	}
	return s.stream.SubscribeAll(fn)
}

// Connected reports whether the event stream is up.
func (s *Session) Connected() bool {
	return s.stream != nil && s.stream.Connected()
}

// RefreshConversations reloads every page of the conversation list.
func (s *Session) RefreshConversations(ctx context.Context) error {
	var all []models.Conversation
	q := models.PageQuery{Page: 1, Limit: 50}
	for {
		page, err := s.api.ListConversations(ctx, q)
		if err != nil {
			s.metrics.CollaboratorFailure("list_conversations")
			return err
		}
		all = append(all, page.Items...)
		if len(page.Items) == 0 || len(all) >= page.Pagination.Total {
			break
		}
		q.Page++
	}
	return s.loop.Do(ctx, func() { s.store.LoadConversations(all) })
}

// Send shows content in convID at once and returns its provisional id.
func (s *Session) Send(ctx context.Context, convID, content, replyTo string) (string, error) {
	var id string
	var err error
	if derr := s.loop.Do(ctx, func() { id, err = s.tracker.BeginSend(convID, content, replyTo) }); derr != nil {
		return "", derr
	}
	if err == nil && s.typing != nil {
		_ = s.loop.Do(ctx, func() { s.typing.Stop(convID) })
	}
	return id, err
}

func (s *Session) Retry(ctx context.Context, provisionalID string) error {
	var err error
	if derr := s.loop.Do(ctx, func() { err = s.tracker.Retry(provisionalID) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) Discard(ctx context.Context, provisionalID string) error {
	var err error
	if derr := s.loop.Do(ctx, func() { err = s.tracker.Discard(provisionalID) }); derr != nil {
		return derr
	}
	return err
}

// Edit changes a confirmed message on the server and then locally. It waits
// for the server's answer.
func (s *Session) Edit(ctx context.Context, convID, msgID, content string) (models.Message, error) {
	type result struct {
		msg models.Message
		err error
	}
	ch := make(chan result, 1)
	var err error
	derr := s.loop.Do(ctx, func() {
		err = s.tracker.Edit(convID, msgID, content, func(m models.Message, err error) {
			ch <- result{m, err}
		})
	})
	if derr != nil {
		return models.Message{}, derr
	}
	if err != nil {
		return models.Message{}, err
	}
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Delete removes a message. Failed sends are discarded locally; confirmed
// messages are deleted on the server first.
func (s *Session) Delete(ctx context.Context, convID, msgID string) error {
	ch := make(chan error, 1)
	var err error
	derr := s.loop.Do(ctx, func() {
		err = s.tracker.Delete(convID, msgID, func(err error) { ch <- err })
	})
	if derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select focuses convID and waits until its log is loaded or the fetch has
// failed. A failed fetch leaves the focus in place and is returned.
func (s *Session) Select(ctx context.Context, convID string) error {
	ch := make(chan error, 1)
	var sub *notify.Subscription
	var err error
	derr := s.loop.Do(ctx, func() {
		sub = s.selector.OnLoad(func(r selector.LoadResult) {
			if r.ConversationID == convID {
				select {
				case ch <- r.Err:
				default:
				}
			}
		})
		err = s.selector.Select(convID)
		if err != nil || convID == "" || !s.selector.Loading(convID) {
			ch <- nil
		}
	})
	if sub != nil {
		defer sub.Release()
	}
	if derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh refetches the log of convID.
func (s *Session) Refresh(ctx context.Context, convID string) error {
	return s.loop.Do(ctx, func() { s.selector.Refresh(convID) })
}

// Search sets the search query over the active conversation.
func (s *Session) Search(ctx context.Context, query string) error {
	return s.loop.Do(ctx, func() { s.overlay.SetQuery(query) })
}

func (s *Session) SearchView(ctx context.Context) (search.View, error) {
	var v search.View
	err := s.loop.Do(ctx, func() { v = s.overlay.View() })
	return v, err
}

// OnSearch registers fn for search query and result changes.
func (s *Session) OnSearch(fn func(query string)) *notify.Subscription {
	return s.overlay.Subscribe(fn)
}

// Typing records a keystroke in convID.
func (s *Session) Typing(ctx context.Context, convID string) error {
	if s.typing == nil {
		return nil
	}
	return s.loop.Do(ctx, func() { s.typing.Keystroke(convID) })
}

func (s *Session) StopTyping(ctx context.Context, convID string) error {
	if s.typing == nil {
		return nil
	}
	return s.loop.Do(ctx, func() { s.typing.Stop(convID) })
}
