package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnect     EventType = "disconnect"
	EventSendMessage    EventType = "send_message"
	EventNewMessage     EventType = "new_message"
	EventUserStatus     EventType = "user_status"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"
	EventMessageStatus  EventType = "message_status"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventError          EventType = "error"
)

// ErrMalformedEvent is wrapped by every Validate failure.
var ErrMalformedEvent = errors.New("malformed event")

func malformed(t EventType, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformedEvent, t, field)
}

// Envelope is the frame exchanged on the real-time channel.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of type t.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s: empty payload", ErrMalformedEvent, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, e.Type, err)
	}
	return nil
}

type ConnectedEvent struct {
	UserID string `json:"user_id"`
}

type MessageStatusEvent struct {
	MessageID string        `json:"message_id"`
	ChatID    string        `json:"chat_id,omitempty"`
	Status    MessageStatus `json:"status"`
}

func (e MessageStatusEvent) Validate() error {
	if e.MessageID == "" {
		return malformed(EventMessageStatus, "message_id")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %s: invalid status %q", ErrMalformedEvent, EventMessageStatus, e.Status)
	}
	return nil
}

type MessageEditedEvent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
	Content   string `json:"content"`
	EditedAt  int64  `json:"edited_at"`
}

func (e MessageEditedEvent) Validate() error {
	if e.MessageID == "" {
		return malformed(EventMessageEdited, "message_id")
	}
	return nil
}

type MessageDeletedEvent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

func (e MessageDeletedEvent) Validate() error {
	if e.MessageID == "" {
		return malformed(EventMessageDeleted, "message_id")
	}
	if e.ChatID == "" {
		return malformed(EventMessageDeleted, "chat_id")
	}
	return nil
}

type TypingEvent struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

func (e TypingEvent) Validate() error {
	if e.ChatID == "" {
		return malformed(EventTypingStart, "chat_id")
	}
	if e.UserID == "" {
		return malformed(EventTypingStart, "user_id")
	}
	return nil
}

type UserStatusEvent struct {
	UserID   string     `json:"user_id"`
	Status   UserStatus `json:"status"`
	LastSeen int64      `json:"last_seen,omitempty"`
}

func (e UserStatusEvent) Validate() error {
	if e.UserID == "" {
		return malformed(EventUserStatus, "user_id")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %s: invalid status %q", ErrMalformedEvent, EventUserStatus, e.Status)
	}
	return nil
}

type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ValidateMessage checks the fields a new_message payload must carry.
func ValidateMessage(m Message) error {
	switch {
	case m.ID == "":
		return malformed(EventNewMessage, "message_id")
	case m.ConversationID == "":
		return malformed(EventNewMessage, "chat_id")
	case m.SenderID == "":
		return malformed(EventNewMessage, "sender_id")
	case m.CreatedAt == 0:
		return malformed(EventNewMessage, "created_at")
	}
	return nil
}
