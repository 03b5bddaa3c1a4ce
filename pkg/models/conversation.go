package models

type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
	UserAway    UserStatus = "away"
	UserDND     UserStatus = "dnd"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserOnline, UserOffline, UserAway, UserDND:
		return true
	}
	return false
}

// Participant is the summary of a user as seen inside a conversation.
type Participant struct {
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Status    UserStatus `json:"status,omitempty"`
	LastSeen  int64      `json:"last_seen,omitempty"`
}

type Conversation struct {
	ID           string           `json:"chat_id"`
	Kind         ConversationKind `json:"type"`
	Name         string           `json:"name"`
	AvatarURL    string           `json:"avatar_url,omitempty"`
	Description  string           `json:"description,omitempty"`
	Participants []Participant    `json:"participants"`
	// LastMessage is a copy of the latest non-deleted message known to the
	// client; it does not own the entry in the log.
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
	CreatedAt   int64    `json:"created_at,omitempty"`
	// UpdatedAt is server-assigned where available, otherwise the latest
	// message timestamp seen locally.
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of the store.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}

// HasParticipant reports whether userID is listed in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
