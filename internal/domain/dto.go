package domain

import (
	"encoding/json"
)

// Client to server frame types.
const (
	FrameJoinConversation  = "join_conversation"
	FrameLeaveConversation = "leave_conversation"
	FrameSendMessage       = "send_message"
	FrameTyping            = "typing"
	FrameStopTyping        = "stop_typing"
	FrameMarkAsRead        = "mark_as_read"
	FramePing              = "ping"
)

// Server to client frame types.
const (
	FrameConnectionEstablished = "connection_established"
	FrameConversationCreated   = "conversation_created"
	FrameConversationJoined    = "conversation_joined"
	FrameConversationLeft      = "conversation_left"
	FrameConversationUpdated   = "conversation_updated"
	FrameNewMessage            = "new_message"
	FrameMessagesRead          = "messages_read"
	FrameUserTyping            = "user_typing"
	FrameUserStopTyping        = "user_stop_typing"
	FrameError                 = "error"
	FramePong                  = "pong"
)

type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type WebSocketResponse struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type JoinConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationRef struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

type SendMessageRequest struct {
	ConversationID string       `json:"conversation_id"`
	Body           string       `json:"body" validate:"max=4000"`
	Kind           MessageKind  `json:"kind" validate:"omitempty,oneof=text image file"`
	Attachments    []Attachment `json:"attachments" validate:"max=10,dive"`
}

type AssignRequest struct {
	StaffID string `json:"staff_id" validate:"required"`
	Role    Role   `json:"role" validate:"omitempty,oneof=admin seller"`
}

type UpdateStatusRequest struct {
	Status ConversationStatus `json:"status" validate:"required,oneof=open pending resolved closed"`
}

type ConversationJoinedResponse struct {
	Conversation *Conversation `json:"conversation"`
	Typing       []Typing      `json:"typing"`
}

type UnreadSummary struct {
	Side          Side `json:"side"`
	Unread        int  `json:"unread"`
	Conversations int  `json:"conversations"`
}
