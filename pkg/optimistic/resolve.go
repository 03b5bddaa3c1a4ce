package optimistic

import (
	"sort"
	"time"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// Resolve applies the server's answer to a send. The canonical message
// takes the provisional entry's place and the record is removed.
func (t *Tracker) Resolve(provisionalID string, canonical models.Message) {
	rec := t.records[provisionalID]
	if rec == nil {
		// record already gone: replace a leftover entry, otherwise the echo
		// carries the message
		t.store.AppendOrMerge(canonical.ConversationID, canonical, chatstore.Replacing(provisionalID))
		return
	}
	if canonical.ConversationID == "" {
		canonical.ConversationID = rec.convID
	}

	switch rec.state {
	case stateDropped:
		logger.Debug("send_resolved_after_drop", "provisional_id", rec.id, "message_id", canonical.ID)

	case stateSettled:
		if rec.canonicalID != canonical.ID {
			// the echo we matched belonged to another send; this one is
			// distinct
			logger.Warn("send_echo_mismatch", "provisional_id", rec.id, "echo_id", rec.canonicalID, "message_id", canonical.ID)
			t.store.AppendOrMerge(rec.convID, canonical, chatstore.Silent())
		} else {
			t.store.AppendOrMerge(rec.convID, canonical)
		}

	case statePending, stateFailed:
		if rec.state == statePending {
			t.dequeue(rec)
			t.observeConfirmed(rec)
		}
		t.reclaim(rec, canonical.ID)
		res := t.store.AppendOrMerge(rec.convID, canonical, chatstore.Replacing(rec.id))
		t.cfg.Metrics.SendOutcome(metrics.SendConfirmedREST)
		logger.Debug("send_confirmed", "provisional_id", rec.id, "message_id", canonical.ID, "result", res.String())
	}
	delete(t.records, rec.id)
	t.updatePending()
}

// reclaim undoes an echo match that the REST response proves wrong: another
// record claimed canonicalID from the stream, so that record's own message
// is still unconfirmed and gets its provisional entry back.
func (t *Tracker) reclaim(owner *record, canonicalID string) {
	for _, other := range t.records {
		if other == owner || other.state != stateSettled || other.canonicalID != canonicalID {
			continue
		}
		other.state = statePending
		other.canonicalID = ""
		t.store.AppendOrMerge(other.convID, other.msg, chatstore.Silent())
		t.enqueue(other)
		logger.Warn("send_echo_reclaimed", "provisional_id", other.id, "message_id", canonicalID)
	}
}

// Confirm handles a new_message echo from the local user. The oldest
// pending send in the conversation is resolved by it; false means no send
// was pending and msg is a genuinely new message.
func (t *Tracker) Confirm(convID string, msg models.Message) bool {
	var rec *record
	for _, id := range t.queues[convID] {
		if r := t.records[id]; r != nil && r.state == statePending {
			rec = r
			break
		}
	}
	if rec == nil {
		return false
	}
	t.settle(rec, msg)
	return true
}

// settle lets the canonical msg take the place of rec's provisional entry
// while the REST response is still outstanding.
func (t *Tracker) settle(rec *record, msg models.Message) {
	t.dequeue(rec)
	res := t.store.AppendOrMerge(rec.convID, msg, chatstore.Replacing(rec.id))
	rec.state = stateSettled
	rec.canonicalID = msg.ID
	t.observeConfirmed(rec)
	t.cfg.Metrics.SendOutcome(metrics.SendConfirmedEcho)
	t.updatePending()
	logger.Debug("send_echo_matched", "provisional_id", rec.id, "message_id", msg.ID, "result", res.String())
}

// clockSkew bounds how much earlier than the local submission time the
// server may stamp a message.
const clockSkew = 5 * time.Second

// Claim matches the local user's messages in a fetched page against sends
// still waiting for confirmation, before the page is merged into the log.
// A fetched message qualifies when the log does not hold it yet, it carries
// the pending send's content and it is not older than the submission.
// Matches go oldest first on both sides. It returns how many sends were
// settled.
func (t *Tracker) Claim(convID string, fetched []models.Message) int {
	if len(t.queues[convID]) == 0 {
		return 0
	}
	self := t.cfg.Self.UserID
	cands := make([]models.Message, 0, len(fetched))
	for _, m := range fetched {
		if m.ID == "" || m.SenderID != self || t.store.Removed(convID, m.ID) {
			continue
		}
		if _, ok := t.store.Message(convID, m.ID); ok {
			continue
		}
		cands = append(cands, m)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].CreatedAt < cands[j].CreatedAt })

	n := 0
	for _, m := range cands {
		var rec *record
		for _, id := range t.queues[convID] {
			r := t.records[id]
			if r == nil || r.state != statePending || r.msg.Content != m.Content {
				continue
			}
			if m.CreatedAt < r.submittedAt.Add(-clockSkew).UnixMilli() {
				continue
			}
			rec = r
			break
		}
		if rec == nil {
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = convID
		}
		t.settle(rec, m)
		n++
	}
	return n
}

func (t *Tracker) observeConfirmed(rec *record) {
	t.cfg.Metrics.ObserveSendLatency(t.exec.Now().Sub(rec.submittedAt))
}

func (t *Tracker) fail(id string, err error) {
	rec := t.records[id]
	if rec == nil {
		return
	}
	switch rec.state {
	case statePending:
		t.dequeue(rec)
		rec.state = stateFailed
		t.store.MarkFailed(rec.convID, rec.id)
	case stateSettled:
		// The echo matched this send, but while other sends in the
		// conversation are pending it may have been theirs. Show this one
		// as failed in that case; otherwise the echo stands.
		if len(t.queues[rec.convID]) == 0 {
			logger.Warn("send_failed_after_echo", "provisional_id", rec.id, "message_id", rec.canonicalID, "error", err)
			delete(t.records, rec.id)
			t.updatePending()
			return
		}
		rec.state = stateFailed
		rec.canonicalID = ""
		failed := rec.msg
		failed.Status = models.StatusFailed
		t.store.AppendOrMerge(rec.convID, failed, chatstore.Silent())
	default:
		return
	}
	t.updatePending()
	t.cfg.Metrics.SendOutcome(metrics.SendFailed)
	t.cfg.Metrics.CollaboratorFailure("send_message")
	logger.Warn("send_failed", "provisional_id", rec.id, "chat_id", rec.convID, "error", err)
	t.failures.Publish(Failure{ProvisionalID: rec.id, ConversationID: rec.convID, Err: err})
}

// Expire fails pending sends older than the pending timeout and forgets
// settled and dropped records of the same age. It returns how many sends
// were failed.
func (t *Tracker) Expire(now time.Time) int {
	n := 0
	for id, rec := range t.records {
		if now.Sub(rec.submittedAt) < t.cfg.PendingTimeout {
			continue
		}
		switch rec.state {
		case statePending:
			t.fail(id, ErrSendTimeout)
			t.cfg.Metrics.SendOutcome(metrics.SendExpired)
			n++
		case stateSettled, stateDropped:
			delete(t.records, id)
		}
	}
	if n > 0 {
		t.updatePending()
	}
	return n
}
