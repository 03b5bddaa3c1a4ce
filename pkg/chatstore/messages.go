package chatstore

import (
	"chatsync/pkg/models"
)

// Result reports what AppendOrMerge did.
type Result int

const (
	// Skipped means nothing changed: the message was deleted earlier or the
	// provisional entry it should replace is gone.
	Skipped Result = iota
	Inserted
	// Merged means an entry with the same canonical id was updated in place.
	Merged
	// Replaced means a provisional entry took the canonical id in place.
	Replaced
	// Collapsed means the canonical message was already present, so the
	// provisional entry was dropped in its favour.
	Collapsed
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Replaced:
		return "replaced"
	case Collapsed:
		return "collapsed"
	}
	return "skipped"
}

type appendOptions struct {
	replacing string
	silent    bool
}

type AppendOption func(*appendOptions)

// Replacing names the provisional entry the message is the canonical
// counterpart of.
func Replacing(provisionalID string) AppendOption {
	return func(o *appendOptions) { o.replacing = provisionalID }
}

// Silent inserts without touching the unread count.
func Silent() AppendOption {
	return func(o *appendOptions) { o.silent = true }
}

// AppendOrMerge applies msg to the conversation's log. An entry with the
// same id is merged in place; with Replacing the provisional entry is
// swapped for msg at its position; otherwise msg is inserted in createdAt
// order. Inserting into a conversation that is not active increments its
// unread count unless the local user sent it. Unknown conversations get a
// stub summary.
func (s *Store) AppendOrMerge(convID string, msg models.Message, opts ...AppendOption) Result {
	var o appendOptions
	for _, fn := range opts {
		fn(&o)
	}
	if convID == "" {
		convID = msg.ConversationID
	}
	msg.ConversationID = convID
	if msg.Type == "" {
		msg.Type = models.TypeText
	}

	s.mu.Lock()
	var changes []Change
	res := s.appendLocked(convID, msg, o, &changes)
	s.mu.Unlock()
	s.publish(changes)
	return res
}

func (s *Store) appendLocked(convID string, msg models.Message, o appendOptions, changes *[]Change) Result {
	log := s.logs[convID]

	if s.tombstonedLocked(convID, msg.ID) {
		// deleted before the confirmation landed; the provisional copy goes too
		if pi := indexOf(log, o.replacing); o.replacing != "" && pi >= 0 {
			s.logs[convID] = removeAt(log, pi)
			conv := s.convs[convID]
			if conv != nil && conv.LastMessage != nil && conv.LastMessage.ID == o.replacing {
				conv.LastMessage = nil
			}
			*changes = append(*changes, Change{Kind: MessageRemoved, ConversationID: convID, MessageID: o.replacing})
			s.touchLocked(convID, 0, changes)
		}
		return Skipped
	}

	var res Result
	if o.replacing != "" {
		pi := indexOf(log, o.replacing)
		if pi < 0 {
			return Skipped
		}
		// the server has the message, so it is at least sent
		if msg.Status.Rank() < models.StatusSent.Rank() {
			msg.Status = models.StatusSent
		}
		conv := s.ensureConvLocked(convID, changes)
		if conv.LastMessage != nil && conv.LastMessage.ID == o.replacing {
			conv.LastMessage = nil
		}
		if ci := indexOf(log, msg.ID); ci >= 0 && ci != pi {
			merged := mergeMessage(log[ci], msg)
			log = removeAt(log, pi)
			ci = indexOf(log, msg.ID)
			log, _ = replaceAt(log, ci, merged)
			res = Collapsed
		} else {
			log, _ = replaceAt(log, pi, mergeMessage(log[pi], msg))
			res = Replaced
		}
		s.logs[convID] = log
		*changes = append(*changes, Change{Kind: MessageUpdated, ConversationID: convID, MessageID: msg.ID, PreviousID: o.replacing})
	} else if ci := indexOf(log, msg.ID); ci >= 0 {
		s.ensureConvLocked(convID, changes)
		s.logs[convID], _ = replaceAt(log, ci, mergeMessage(log[ci], msg))
		res = Merged
		*changes = append(*changes, Change{Kind: MessageUpdated, ConversationID: convID, MessageID: msg.ID})
	} else {
		conv := s.ensureConvLocked(convID, changes)
		s.logs[convID], _ = insertSorted(log, msg)
		res = Inserted
		if !o.silent && convID != s.active && (s.self == "" || msg.SenderID != s.self) {
			conv.UnreadCount++
		}
		*changes = append(*changes, Change{Kind: MessageAdded, ConversationID: convID, MessageID: msg.ID})
	}
	s.touchLocked(convID, msg.CreatedAt, changes)
	return res
}

// ensureConvLocked returns the summary for convID, creating a stub when the
// first message of an unknown conversation arrives.
func (s *Store) ensureConvLocked(convID string, changes *[]Change) *models.Conversation {
	conv := s.convs[convID]
	if conv == nil {
		conv = &models.Conversation{ID: convID}
		s.convs[convID] = conv
		*changes = append(*changes, Change{Kind: ConversationUpdated, ConversationID: convID})
	}
	return conv
}

// touchLocked recomputes lastMessage and advances updatedAt.
func (s *Store) touchLocked(convID string, at int64, changes *[]Change) {
	conv := s.convs[convID]
	if conv == nil {
		return
	}
	s.refreshLastLocked(conv)
	if at > conv.UpdatedAt {
		conv.UpdatedAt = at
	}
	*changes = append(*changes, Change{Kind: ConversationUpdated, ConversationID: convID})
}

// refreshLastLocked points lastMessage at the newest entry of the log. A
// server-provided lastMessage is kept while the log has not been fetched
// and holds nothing newer.
func (s *Store) refreshLastLocked(conv *models.Conversation) {
	log := s.logs[conv.ID]
	var cand *models.Message
	if n := len(log); n > 0 {
		m := log[n-1]
		cand = &m
	}
	cur := conv.LastMessage
	if cur != nil && !s.loaded[conv.ID] && !s.tombstonedLocked(conv.ID, cur.ID) &&
		indexOf(log, cur.ID) < 0 && (cand == nil || cur.CreatedAt > cand.CreatedAt) {
		return
	}
	conv.LastMessage = cand
}

// UpdateStatus advances a message's delivery status. Only the four
// delivery statuses are accepted and only when strictly later than the
// recorded one; a failed entry is left for the retry path. The lookup spans
// every conversation.
func (s *Store) UpdateStatus(msgID string, status models.MessageStatus) bool {
	if !status.Valid() {
		return false
	}
	s.mu.Lock()
	var changes []Change
	applied := false
	if convID, i, ok := s.findLocked(msgID); ok {
		cur := s.logs[convID][i].Status
		if cur != models.StatusFailed && status.After(cur) {
			s.logs[convID][i].Status = status
			applied = true
			changes = append(changes, Change{Kind: MessageUpdated, ConversationID: convID, MessageID: msgID})
			s.touchLocked(convID, 0, &changes)
		}
	} else {
		// only the summary copy may be known
		for _, conv := range s.convs {
			if lm := conv.LastMessage; lm != nil && lm.ID == msgID && status.After(lm.Status) {
				lm.Status = status
				applied = true
				changes = append(changes, Change{Kind: ConversationUpdated, ConversationID: conv.ID})
			}
		}
	}
	s.mu.Unlock()
	s.publish(changes)
	return applied
}

// MarkFailed moves a sending entry to the failed state.
func (s *Store) MarkFailed(convID, msgID string) bool {
	return s.setStatus(convID, msgID, models.StatusSending, models.StatusFailed)
}

// MarkSending moves a failed entry back to sending for a retry.
func (s *Store) MarkSending(convID, msgID string) bool {
	return s.setStatus(convID, msgID, models.StatusFailed, models.StatusSending)
}

func (s *Store) setStatus(convID, msgID string, from, to models.MessageStatus) bool {
	s.mu.Lock()
	var changes []Change
	i := indexOf(s.logs[convID], msgID)
	ok := i >= 0 && s.logs[convID][i].Status == from
	if ok {
		s.logs[convID][i].Status = to
		changes = append(changes, Change{Kind: MessageUpdated, ConversationID: convID, MessageID: msgID})
		s.touchLocked(convID, 0, &changes)
	}
	s.mu.Unlock()
	s.publish(changes)
	return ok
}

// UpdateContent replaces a message's content. convID may be empty when
// only the message id is known. An edit older than the recorded one is
// ignored.
func (s *Store) UpdateContent(convID, msgID, content string, editedAt int64) bool {
	s.mu.Lock()
	var changes []Change
	applied := false
	i := -1
	if convID != "" {
		i = indexOf(s.logs[convID], msgID)
	} else {
		convID, i, _ = s.findLocked(msgID)
	}
	if i >= 0 {
		m := &s.logs[convID][i]
		if editedAt == 0 || editedAt >= m.EditedAt {
			m.Content = content
			if editedAt != 0 {
				m.EditedAt = editedAt
			}
			applied = true
			changes = append(changes, Change{Kind: MessageUpdated, ConversationID: convID, MessageID: msgID})
			s.touchLocked(convID, 0, &changes)
		}
	} else {
		for _, conv := range s.convs {
			if lm := conv.LastMessage; lm != nil && lm.ID == msgID && (editedAt == 0 || editedAt >= lm.EditedAt) {
				lm.Content = content
				if editedAt != 0 {
					lm.EditedAt = editedAt
				}
				applied = true
				changes = append(changes, Change{Kind: ConversationUpdated, ConversationID: conv.ID})
			}
		}
	}
	s.mu.Unlock()
	s.publish(changes)
	return applied
}

// Remove deletes a message and remembers its id so a late duplicate cannot
// bring it back. Removing the lastMessage recomputes it from the log.
func (s *Store) Remove(convID, msgID string) bool {
	s.mu.Lock()
	var changes []Change
	s.addTombstoneLocked(convID, msgID)
	removed := false
	if i := indexOf(s.logs[convID], msgID); i >= 0 {
		s.logs[convID] = removeAt(s.logs[convID], i)
		removed = true
		changes = append(changes, Change{Kind: MessageRemoved, ConversationID: convID, MessageID: msgID})
	}
	if conv := s.convs[convID]; conv != nil {
		if lm := conv.LastMessage; lm != nil && lm.ID == msgID {
			conv.LastMessage = nil
			removed = true
		}
		if removed {
			s.touchLocked(convID, 0, &changes)
		}
	}
	s.mu.Unlock()
	s.publish(changes)
	return removed
}
