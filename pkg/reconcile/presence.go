package reconcile

import (
	"sort"
	"sync"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/notify"
)

// UserPresence is the last known status of a user.
type UserPresence struct {
	Status   models.UserStatus
	LastSeen int64
}

// PresenceChange is published on every status or typing transition.
type PresenceChange struct {
	UserID string
	// ConversationID is set for typing transitions only.
	ConversationID string
	Typing         bool
	Status         models.UserStatus
}

type typingEntry struct {
	name  string
	since time.Time
}

// Presence tracks user status and per-conversation typing indicators. It
// never touches message logs.
type Presence struct {
	mu     sync.RWMutex
	ttl    time.Duration
	users  map[string]UserPresence
	typing map[string]map[string]typingEntry

	hub notify.Hub[PresenceChange]
}

// NewPresence creates a tracker whose typing flags lapse after ttl without
// a refresh; ttl <= 0 keeps them until typing_stop.
func NewPresence(ttl time.Duration) *Presence {
	return &Presence{
		ttl:    ttl,
		users:  make(map[string]UserPresence),
		typing: make(map[string]map[string]typingEntry),
	}
}

func (p *Presence) Subscribe(fn func(PresenceChange)) *notify.Subscription {
	return p.hub.Subscribe(fn)
}

func (p *Presence) SetStatus(userID string, status models.UserStatus, lastSeen int64) {
	p.mu.Lock()
	cur, ok := p.users[userID]
	changed := !ok || cur.Status != status || (lastSeen != 0 && cur.LastSeen != lastSeen)
	if changed {
		next := UserPresence{Status: status, LastSeen: cur.LastSeen}
		if lastSeen != 0 {
			next.LastSeen = lastSeen
		}
		p.users[userID] = next
	}
	p.mu.Unlock()
	if changed {
		p.hub.Publish(PresenceChange{UserID: userID, Status: status})
	}
}

func (p *Presence) Status(userID string) (UserPresence, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[userID]
	return u, ok
}

// SetTyping records a typing_start (typing) or typing_stop. A repeated
// start refreshes the entry without publishing.
func (p *Presence) SetTyping(convID, userID, name string, typing bool, now time.Time) {
	p.mu.Lock()
	users := p.typing[convID]
	_, was := users[userID]
	if typing {
		if users == nil {
			users = make(map[string]typingEntry)
			p.typing[convID] = users
		}
		users[userID] = typingEntry{name: name, since: now}
	} else if was {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.typing, convID)
		}
	}
	p.mu.Unlock()
	if was != typing {
		p.hub.Publish(PresenceChange{UserID: userID, ConversationID: convID, Typing: typing})
	}
}

// ClearTyping drops a user's typing flag, e.g. once their message arrived.
func (p *Presence) ClearTyping(convID, userID string) {
	p.SetTyping(convID, userID, "", false, time.Time{})
}

// Typing lists the user ids typing in the conversation, sorted.
func (p *Presence) Typing(convID string) []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.typing[convID]))
	for id := range p.typing[convID] {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// TypingNames returns display names for the typing users, falling back to
// the user id.
func (p *Presence) TypingNames(convID string) []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.typing[convID]))
	for id, e := range p.typing[convID] {
		if e.name != "" {
			out = append(out, e.name)
		} else {
			out = append(out, id)
		}
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Expire clears typing flags not refreshed within the ttl and returns how
// many lapsed.
func (p *Presence) Expire(now time.Time) int {
	if p.ttl <= 0 {
		return 0
	}
	var lapsed []PresenceChange
	p.mu.Lock()
	for convID, users := range p.typing {
		for userID, e := range users {
			if now.Sub(e.since) >= p.ttl {
				delete(users, userID)
				lapsed = append(lapsed, PresenceChange{UserID: userID, ConversationID: convID})
			}
		}
		if len(users) == 0 {
			delete(p.typing, convID)
		}
	}
	p.mu.Unlock()
	for _, c := range lapsed {
		p.hub.Publish(c)
	}
	return len(lapsed)
}
