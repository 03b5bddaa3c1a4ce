package models

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	// StatusFailed marks an outgoing message the server never confirmed.
	// It sits outside the delivery ordering and is only left through a retry
	// or a late confirmation.
	StatusFailed MessageStatus = "failed"
)

// Rank orders statuses for monotonic updates. Unknown values rank below
// everything.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusFailed:
		return 0
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is one of the four delivery statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// After reports whether s is strictly later than o.
func (s MessageStatus) After(o MessageStatus) bool {
	return s.Rank() > o.Rank()
}

// LaterStatus returns the later of a and b.
func LaterStatus(a, b MessageStatus) MessageStatus {
	if b.After(a) {
		return b
	}
	return a
}

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
)

type Message struct {
	ID             string `json:"message_id"`
	ConversationID string `json:"chat_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
	Content        string `json:"content"`
	// Type defaults to "text" when omitted.
	Type   MessageType   `json:"type,omitempty"`
	Status MessageStatus `json:"status"`
	// Optional reply-to message ID; may dangle once the target is deleted.
	ReplyTo   string `json:"reply_to,omitempty"`
	EditedAt  int64  `json:"edited_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// SendRequest is the body of a send-message call.
type SendRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type,omitempty"`
	ReplyTo string      `json:"reply_to,omitempty"`
}

type EditRequest struct {
	Content string `json:"content"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id,omitempty"`
}
