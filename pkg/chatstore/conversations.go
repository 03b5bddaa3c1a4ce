package chatstore

import (
	"chatsync/pkg/models"
)

// LoadConversations merges a fetched conversation list. Conversations
// missing from the list are kept; the active conversation keeps a zero
// unread count.
func (s *Store) LoadConversations(list []models.Conversation) {
	s.mu.Lock()
	var changes []Change
	for _, in := range list {
		if in.ID == "" {
			continue
		}
		s.upsertLocked(in)
	}
	changes = append(changes, Change{Kind: ConversationsLoaded})
	s.mu.Unlock()
	s.publish(changes)
}

// UpsertConversation replaces one conversation summary, e.g. after the
// details of a stub were fetched.
func (s *Store) UpsertConversation(in models.Conversation) {
	if in.ID == "" {
		return
	}
	s.mu.Lock()
	s.upsertLocked(in)
	s.mu.Unlock()
	s.publish([]Change{{Kind: ConversationUpdated, ConversationID: in.ID}})
}

func (s *Store) upsertLocked(in models.Conversation) {
	next := in.Clone()
	if cur := s.convs[in.ID]; cur != nil {
		if cur.UpdatedAt > next.UpdatedAt {
			next.UpdatedAt = cur.UpdatedAt
		}
		if next.LastMessage == nil {
			next.LastMessage = cur.LastMessage
		}
	}
	if next.UnreadCount < 0 || in.ID == s.active {
		next.UnreadCount = 0
	}
	s.convs[in.ID] = &next
	s.refreshLastLocked(&next)
	if lm := next.LastMessage; lm != nil && lm.CreatedAt > next.UpdatedAt {
		next.UpdatedAt = lm.CreatedAt
	}
}

// RemoveConversation drops a conversation and its log after the user left
// or deleted it.
func (s *Store) RemoveConversation(convID string) bool {
	s.mu.Lock()
	_, ok := s.convs[convID]
	delete(s.convs, convID)
	delete(s.logs, convID)
	delete(s.loaded, convID)
	delete(s.tombstones, convID)
	if s.active == convID {
		s.active = ""
	}
	s.mu.Unlock()
	if ok {
		s.publish([]Change{{Kind: ConversationRemoved, ConversationID: convID}})
	}
	return ok
}

// LoadLog merges a fetched page of messages into the log and marks it
// loaded. Entries already present (live or provisional) are kept; fetched
// messages never count as unread.
func (s *Store) LoadLog(convID string, msgs []models.Message) {
	s.mu.Lock()
	var changes []Change
	s.ensureConvLocked(convID, &changes)
	log := s.logs[convID]
	var newest int64
	for _, m := range msgs {
		if m.ID == "" || s.tombstonedLocked(convID, m.ID) {
			continue
		}
		m.ConversationID = convID
		if m.Type == "" {
			m.Type = models.TypeText
		}
		if i := indexOf(log, m.ID); i >= 0 {
			log, _ = replaceAt(log, i, mergeMessage(log[i], m))
		} else {
			log, _ = insertSorted(log, m)
		}
		if m.CreatedAt > newest {
			newest = m.CreatedAt
		}
	}
	s.logs[convID] = log
	s.loaded[convID] = true
	changes = append(changes, Change{Kind: LogLoaded, ConversationID: convID})
	s.touchLocked(convID, newest, &changes)
	s.mu.Unlock()
	s.publish(changes)
}

// ClearLog drops a conversation's log; the summary stays.
func (s *Store) ClearLog(convID string) {
	s.mu.Lock()
	_, had := s.logs[convID]
	delete(s.logs, convID)
	delete(s.loaded, convID)
	var changes []Change
	if had {
		changes = append(changes, Change{Kind: LogCleared, ConversationID: convID})
		if conv := s.convs[convID]; conv != nil {
			conv.LastMessage = nil
			changes = append(changes, Change{Kind: ConversationUpdated, ConversationID: convID})
		}
	}
	s.mu.Unlock()
	s.publish(changes)
}

// MarkRead zeroes the unread count.
func (s *Store) MarkRead(convID string) bool {
	s.mu.Lock()
	conv := s.convs[convID]
	changed := conv != nil && conv.UnreadCount != 0
	if changed {
		conv.UnreadCount = 0
	}
	s.mu.Unlock()
	if changed {
		s.publish([]Change{{Kind: ConversationUpdated, ConversationID: convID}})
	}
	return changed
}

// UpdateParticipant copies a presence change into every conversation the
// user takes part in.
func (s *Store) UpdateParticipant(userID string, status models.UserStatus, lastSeen int64) {
	s.mu.Lock()
	var changes []Change
	for id, conv := range s.convs {
		for i := range conv.Participants {
			p := &conv.Participants[i]
			if p.UserID != userID {
				continue
			}
			if p.Status == status && (lastSeen == 0 || p.LastSeen == lastSeen) {
				continue
			}
			p.Status = status
			if lastSeen != 0 {
				p.LastSeen = lastSeen
			}
			changes = append(changes, Change{Kind: ConversationUpdated, ConversationID: id})
		}
	}
	s.mu.Unlock()
	s.publish(changes)
}
