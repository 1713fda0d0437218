package domain

import "time"

type EventType string

const (
	EventConversationCreated  EventType = "conversation_created"
	EventMessageCreated       EventType = "message_created"
	EventMessageDeleted       EventType = "message_deleted"
	EventConversationAssigned EventType = "conversation_assigned"
	EventStatusChanged        EventType = "status_changed"
	EventReadReceipt          EventType = "read_receipt"
	EventTypingStarted        EventType = "typing_started"
	EventTypingStopped        EventType = "typing_stopped"
)

// Event is emitted after a durable write (or a typing signal) and fanned out
// to the conversation's room. Origin names the instance that produced it.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Origin         string    `json:"origin"`
	OccurredAt     time.Time `json:"occurred_at"`

	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Receipt      *ReadReceipt  `json:"receipt,omitempty"`
	Typing       *Typing       `json:"typing,omitempty"`
}

type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderSide     Side      `json:"reader_side"`
	ReaderID       string    `json:"reader_id"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
}

// Frame returns the server-to-client frame type the event is delivered as.
func (t EventType) Frame() string {
	switch t {
	case EventMessageCreated:
		return FrameNewMessage
	case EventReadReceipt:
		return FrameMessagesRead
	case EventTypingStarted:
		return FrameUserTyping
	case EventTypingStopped:
		return FrameUserStopTyping
	}
	return string(t)
}

// LobbyVisible reports whether staff dashboards should be told about the event.
func (t EventType) LobbyVisible() bool {
	switch t {
	case EventConversationCreated, EventMessageCreated, EventConversationAssigned,
		EventStatusChanged, EventReadReceipt:
		return true
	}
	return false
}
