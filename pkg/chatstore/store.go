// Package chatstore holds the client's conversation summaries and the
// ordered message log of each conversation. It is the only writer of that
// state; every mutation is announced to subscribers after the store's lock
// is released.
package chatstore

import (
	"sort"
	"sync"

	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

type ChangeKind int

const (
	ConversationsLoaded ChangeKind = iota + 1
	ConversationUpdated
	ConversationRemoved
	MessageAdded
	MessageUpdated
	MessageRemoved
	LogLoaded
	LogCleared
	ActiveChanged
)

func (k ChangeKind) String() string {
	switch k {
	case ConversationsLoaded:
		return "conversations_loaded"
	case ConversationUpdated:
		return "conversation_updated"
	case ConversationRemoved:
		return "conversation_removed"
	case MessageAdded:
		return "message_added"
	case MessageUpdated:
		return "message_updated"
	case MessageRemoved:
		return "message_removed"
	case LogLoaded:
		return "log_loaded"
	case LogCleared:
		return "log_cleared"
	case ActiveChanged:
		return "active_changed"
	}
	return "unknown"
}

// Change describes one mutation.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
	// PreviousID is the provisional id a canonical message replaced, or the
	// previously active conversation for ActiveChanged.
	PreviousID string
}

// removed ids remembered per conversation
const maxTombstones = 1024

type tombstones struct {
	ids   map[string]struct{}
	order []string
}

func (t *tombstones) add(id string) {
	if _, ok := t.ids[id]; ok {
		return
	}
	t.ids[id] = struct{}{}
	t.order = append(t.order, id)
	if len(t.order) > maxTombstones {
		delete(t.ids, t.order[0])
		t.order = t.order[1:]
	}
}

type Store struct {
	mu         sync.RWMutex
	self       string
	active     string
	convs      map[string]*models.Conversation
	logs       map[string][]models.Message
	loaded     map[string]bool
	tombstones map[string]*tombstones

	hub notify.Hub[Change]
}

type Option func(*Store)

// WithSelf sets the local user id used to suppress unread counts for the
// user's own messages.
func WithSelf(userID string) Option {
	return func(s *Store) { s.self = userID }
}

func New(opts ...Option) *Store {
	s := &Store{
		convs:      make(map[string]*models.Conversation),
		logs:       make(map[string][]models.Message),
		loaded:     make(map[string]bool),
		tombstones: make(map[string]*tombstones),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers fn for every subsequent change.
func (s *Store) Subscribe(fn func(Change)) *notify.Subscription {
	return s.hub.Subscribe(fn)
}

func (s *Store) publish(changes []Change) {
	for _, c := range changes {
		s.hub.Publish(c)
	}
}

func (s *Store) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ListConversations returns a snapshot sorted by UpdatedAt descending, ties
// broken by id.
func (s *Store) ListConversations() []models.Conversation {
	s.mu.RLock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Conversation(convID string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return models.Conversation{}, false
	}
	return c.Clone(), true
}

// GetLog returns a copy of the conversation's log; unknown conversations
// yield an empty log.
func (s *Store) GetLog(convID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[convID]
	out := make([]models.Message, len(log))
	copy(out, log)
	return out
}

// LogLoaded reports whether the log has been fetched from the server since
// the conversation was last cleared.
func (s *Store) LogLoaded(convID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[convID]
}

func (s *Store) Message(convID, msgID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.logs[convID], msgID); i >= 0 {
		return s.logs[convID][i], true
	}
	return models.Message{}, false
}

// FindMessage looks a message up by id across all conversations.
func (s *Store) FindMessage(msgID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convID, i, ok := s.findLocked(msgID)
	if !ok {
		return models.Message{}, false
	}
	return s.logs[convID][i], true
}

func (s *Store) findLocked(msgID string) (string, int, bool) {
	for convID, log := range s.logs {
		if i := indexOf(log, msgID); i >= 0 {
			return convID, i, true
		}
	}
	return "", -1, false
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive changes the focused conversation; "" clears it.
func (s *Store) SetActive(convID string) {
	s.mu.Lock()
	prev := s.active
	s.active = convID
	s.mu.Unlock()
	if prev != convID {
		s.publish([]Change{{Kind: ActiveChanged, ConversationID: convID, PreviousID: prev}})
	}
}

func (s *Store) tombstonedLocked(convID, msgID string) bool {
	t := s.tombstones[convID]
	if t == nil {
		return false
	}
	_, ok := t.ids[msgID]
	return ok
}

func (s *Store) addTombstoneLocked(convID, msgID string) {
	t := s.tombstones[convID]
	if t == nil {
		t = &tombstones{ids: make(map[string]struct{})}
		s.tombstones[convID] = t
	}
	t.add(msgID)
}

// Removed reports whether msgID was deleted from the conversation.
func (s *Store) Removed(convID, msgID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tombstonedLocked(convID, msgID)
}
