// Package reconcile applies push events from the real-time channel to the
// conversation store. Events may arrive duplicated, reordered relative to
// REST responses, or malformed; none of that may corrupt the store.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
	"chatsync/pkg/optimistic"
)

var ErrUnknownEvent = errors.New("unknown event type")

// EventSource delivers decoded envelopes per event type.
type EventSource interface {
	Subscribe(t models.EventType, fn func(models.Envelope)) *notify.Subscription
}

// Types the reconciler registers for.
var Types = []models.EventType{
	models.EventNewMessage,
	models.EventMessageStatus,
	models.EventMessageEdited,
	models.EventMessageDeleted,
	models.EventTypingStart,
	models.EventTypingStop,
	models.EventUserStatus,
	models.EventConnected,
	models.EventError,
}

type Reconciler struct {
	store    *chatstore.Store
	tracker  *optimistic.Tracker
	presence *Presence
	metrics  *metrics.Sync
	now      func() time.Time

	unknownConversation func(convID string)
}

func New(st *chatstore.Store, tr *optimistic.Tracker, pr *Presence, m *metrics.Sync, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: st, tracker: tr, presence: pr, metrics: m, now: now}
}

// OnUnknownConversation registers fn for messages that created a stub
// conversation, so its details can be fetched.
func (r *Reconciler) OnUnknownConversation(fn func(convID string)) {
	r.unknownConversation = fn
}

// Attach subscribes to every handled event type. Handlers hand the event to
// post, which must run it on the loop.
func (r *Reconciler) Attach(src EventSource, post func(func())) *notify.Group {
	g := &notify.Group{}
	for _, t := range Types {
		g.Add(src.Subscribe(t, func(env models.Envelope) {
			post(func() { r.Apply(env) })
		}))
	}
	return g
}

// Apply handles one event. Malformed payloads are dropped with a warning
// and returned as an error wrapping models.ErrMalformedEvent.
func (r *Reconciler) Apply(env models.Envelope) error {
	var err error
	switch env.Type {
	case models.EventNewMessage:
		err = r.applyNewMessage(env)
	case models.EventMessageStatus:
		err = r.applyStatus(env)
	case models.EventMessageEdited:
		err = r.applyEdited(env)
	case models.EventMessageDeleted:
		err = r.applyDeleted(env)
	case models.EventTypingStart, models.EventTypingStop:
		err = r.applyTyping(env)
	case models.EventUserStatus:
		err = r.applyUserStatus(env)
	case models.EventConnected:
		var ev models.ConnectedEvent
		_ = env.Decode(&ev)
		logger.Info("stream_connected", "user_id", ev.UserID)
		return nil
	case models.EventError:
		var ev models.ErrorEvent
		_ = env.Decode(&ev)
		logger.Warn("stream_error_event", "code", ev.Code, "message", ev.Message)
		return nil
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown_type"
		}
		r.metrics.EventDropped(string(env.Type), reason)
		logger.Warn("event_dropped", "type", env.Type, "reason", reason, "error", err)
		return err
	}
	r.metrics.EventApplied(string(env.Type))
	return nil
}

func (r *Reconciler) applyNewMessage(env models.Envelope) error {
	var m models.Message
	if err := env.Decode(&m); err != nil {
		return err
	}
	if err := models.ValidateMessage(m); err != nil {
		return err
	}
	convID := m.ConversationID
	r.presence.ClearTyping(convID, m.SenderID)

	if r.store.Removed(convID, m.ID) {
		logger.Debug("new_message_after_delete", "message_id", m.ID, "chat_id", convID)
		return nil
	}
	_, known := r.store.Conversation(convID)

	switch {
	case r.has(convID, m.ID):
		res := r.store.AppendOrMerge(convID, m)
		logger.Debug("new_message_duplicate", "message_id", m.ID, "result", res.String())
	case m.SenderID == r.store.Self() && r.tracker != nil && r.tracker.Confirm(convID, m):
	default:
		r.store.AppendOrMerge(convID, m)
	}

	if !known && r.unknownConversation != nil {
		r.unknownConversation(convID)
	}
	return nil
}

func (r *Reconciler) has(convID, msgID string) bool {
	_, ok := r.store.Message(convID, msgID)
	return ok
}

func (r *Reconciler) applyStatus(env models.Envelope) error {
	var ev models.MessageStatusEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if !r.store.UpdateStatus(ev.MessageID, ev.Status) {
		logger.Debug("message_status_ignored", "message_id", ev.MessageID, "status", ev.Status)
	}
	return nil
}

func (r *Reconciler) applyEdited(env models.Envelope) error {
	var ev models.MessageEditedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if !r.store.UpdateContent(ev.ChatID, ev.MessageID, ev.Content, ev.EditedAt) {
		logger.Debug("message_edited_ignored", "message_id", ev.MessageID)
	}
	return nil
}

func (r *Reconciler) applyDeleted(env models.Envelope) error {
	var ev models.MessageDeletedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if !r.store.Remove(ev.ChatID, ev.MessageID) {
		logger.Debug("message_deleted_ignored", "message_id", ev.MessageID)
	}
	return nil
}

func (r *Reconciler) applyTyping(env models.Envelope) error {
	var ev models.TypingEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.UserID == r.store.Self() {
		return nil
	}
	r.presence.SetTyping(ev.ChatID, ev.UserID, ev.UserName, env.Type == models.EventTypingStart, r.now())
	return nil
}

func (r *Reconciler) applyUserStatus(env models.Envelope) error {
	var ev models.UserStatusEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	r.presence.SetStatus(ev.UserID, ev.Status, ev.LastSeen)
	r.store.UpdateParticipant(ev.UserID, ev.Status, ev.LastSeen)
	return nil
}
