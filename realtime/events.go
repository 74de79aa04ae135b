package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound actions.
const (
	ActionMessage = "message"
	ActionTyping  = "typing"
)

// Outbound event types.
const (
	EventChatMessage     = "chat_message"
	EventInboxUpdate     = "inbox_update"
	EventTypingIndicator = "typing_indicator"
)

// PersonalGroup is the group every connection of userID joins.
func PersonalGroup(userID uint) string {
	return fmt.Sprintf("user_%d", userID)
}

// RoomGroup names the pairwise room of a and b. Either participant computes
// the same name.
func RoomGroup(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("chat_%d_%d", a, b)
}

// MaxMessageRunes caps the text of a message event. It must match the max
// in the validate tag on InboundEvent.Message.
const MaxMessageRunes = 4000

// MaxFrameBytes is the smallest read limit that still admits every valid
// message event. JSON may escape one rune as a surrogate pair, 12 bytes.
const MaxFrameBytes = MaxMessageRunes*12 + 1024

// InboundEvent is what a client sends over its connection.
type InboundEvent struct {
	Action  string  `json:"action" validate:"required,max=32"`
	Message *string `json:"message,omitempty" validate:"omitempty,max=4000"`
	Typing  *bool   `json:"typing,omitempty"`
}

func (e InboundEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

func (e InboundEvent) IsTyping() bool {
	return e.Typing != nil && *e.Typing
}

// Event is what the server fans out to groups and forwards to clients.
type Event struct {
	Type     string
	Message  string
	SenderID uint
	IsTyping bool
	UserID   uint
}

func ChatMessage(text string, senderID uint) Event {
	return Event{Type: EventChatMessage, Message: text, SenderID: senderID}
}

func InboxUpdate(text string, senderID uint) Event {
	return Event{Type: EventInboxUpdate, Message: text, SenderID: senderID}
}

func TypingIndicator(isTyping bool, userID uint) Event {
	return Event{Type: EventTypingIndicator, IsTyping: isTyping, UserID: userID}
}

type messagePayload struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	SenderID uint   `json:"sender_id"`
}

type typingPayload struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
	UserID   uint   `json:"user_id"`
}

// MarshalJSON writes only the fields that belong to the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventChatMessage, EventInboxUpdate:
		return json.Marshal(messagePayload{Type: e.Type, Message: e.Message, SenderID: e.SenderID})
	case EventTypingIndicator:
		return json.Marshal(typingPayload{Type: e.Type, IsTyping: e.IsTyping, UserID: e.UserID})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		SenderID uint   `json:"sender_id"`
		IsTyping bool   `json:"is_typing"`
		UserID   uint   `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{
		Type:     raw.Type,
		Message:  raw.Message,
		SenderID: raw.SenderID,
		IsTyping: raw.IsTyping,
		UserID:   raw.UserID,
	}
	return nil
}
