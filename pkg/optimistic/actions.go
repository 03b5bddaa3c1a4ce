package optimistic

import (
	"context"
	"fmt"
	"strings"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// Retry resends a failed message under its existing provisional id.
func (t *Tracker) Retry(provisionalID string) error {
	rec := t.records[provisionalID]
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSend, provisionalID)
	}
	if rec.state != stateFailed {
		return fmt.Errorf("%w: %s", ErrNotFailed, provisionalID)
	}
	if !t.store.MarkSending(rec.convID, rec.id) {
		// entry went missing underneath us; show it again
		m := rec.msg
		m.Status = models.StatusSending
		t.store.AppendOrMerge(rec.convID, m)
	}
	rec.state = statePending
	rec.submittedAt = t.exec.Now()
	t.enqueue(rec)
	t.updatePending()
	t.cfg.Metrics.SendOutcome(metrics.SendRetried)
	logger.Info("send_retried", "provisional_id", rec.id, "chat_id", rec.convID, "attempt", rec.attempt+1)
	t.send(rec)
	return nil
}

// Discard removes a failed message from the log.
func (t *Tracker) Discard(provisionalID string) error {
	rec := t.records[provisionalID]
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSend, provisionalID)
	}
	if rec.state != stateFailed {
		return fmt.Errorf("%w: %s", ErrNotFailed, provisionalID)
	}
	delete(t.records, rec.id)
	t.store.Remove(rec.convID, rec.id)
	logger.Info("send_discarded", "provisional_id", rec.id, "chat_id", rec.convID)
	return nil
}

// Edit asks the server to change a confirmed message and applies the
// returned state. done runs on the loop with the outcome.
func (t *Tracker) Edit(convID, msgID, content string, done func(models.Message, error)) error {
	if t.IsProvisional(msgID) {
		return ErrProvisional
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	t.exec.Spawn(func() {
		ctx, cancel := t.callContext()
		m, err := t.api.EditMessage(ctx, msgID, content)
		cancel()
		t.exec.Post(func() {
			if err != nil {
				t.cfg.Metrics.CollaboratorFailure("edit_message")
				logger.Warn("edit_failed", "message_id", msgID, "error", err)
			} else {
				if m.ID == "" {
					m.ID = msgID
				}
				editedAt := m.EditedAt
				if editedAt == 0 {
					editedAt = t.exec.Now().UnixMilli()
				}
				t.store.UpdateContent(convID, m.ID, m.Content, editedAt)
			}
			if done != nil {
				done(m, err)
			}
		})
	})
	return nil
}

// Delete asks the server to delete a confirmed message and removes it
// locally once the server agreed. Deleting a failed send discards it.
func (t *Tracker) Delete(convID, msgID string, done func(error)) error {
	if t.IsFailed(msgID) {
		err := t.Discard(msgID)
		if done != nil {
			t.exec.Post(func() { done(err) })
		}
		return nil
	}
	if t.IsProvisional(msgID) {
		return ErrProvisional
	}
	t.exec.Spawn(func() {
		ctx, cancel := t.callContext()
		err := t.api.DeleteMessage(ctx, msgID)
		cancel()
		t.exec.Post(func() {
			if err != nil {
				t.cfg.Metrics.CollaboratorFailure("delete_message")
				logger.Warn("delete_failed", "message_id", msgID, "error", err)
			} else {
				t.store.Remove(convID, msgID)
			}
			if done != nil {
				done(err)
			}
		})
	})
	return nil
}

// callContext bounds one REST call by the send timeout.
func (t *Tracker) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, t.cfg.SendTimeout)
}
