package domain

import (
	"context"
	"time"
)

type ConversationFilter struct {
	CustomerID string
	AssignedTo string
	Status     ConversationStatus
	Page       Page
}

// Assignment hands a conversation to one staff member.
type Assignment struct {
	StaffID string
	Role    Role
}

// MessageRecord describes the denormalized conversation update that follows
// a persisted message. The summary fields only move forward: a record older
// than the conversation's last message updates the counters alone.
type MessageRecord struct {
	MessageID string
	Preview   string
	At        time.Time
	Sender    SenderType
	// Staff is set when a staff member sends; the store claims an unassigned
	// conversation for them and rejects the write when someone else holds it.
	Staff     *Assignment
}

// ConversationRepository must apply every mutation as a single atomic write.
type ConversationRepository interface {
	FindActiveByCustomer(ctx context.Context, customerID string) (*Conversation, error)
	// Create returns ErrConflict when the customer already has an active conversation.
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]Conversation, int64, error)
	Assign(ctx context.Context, id string, a Assignment, at time.Time) (*Conversation, error)
	RecordMessage(ctx context.Context, id string, rec MessageRecord) (*Conversation, error)
	ResetUnread(ctx context.Context, id string, side Side, at time.Time) (prev int, conv *Conversation, err error)
	UpdateStatus(ctx context.Context, id string, from, to ConversationStatus, at time.Time) (*Conversation, error)
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	Get(ctx context.Context, conversationID, id string) (*Message, error)
	// List returns non-deleted messages oldest first.
	List(ctx context.Context, conversationID string, page Page) ([]Message, int64, error)
	MarkRead(ctx context.Context, conversationID string, senders []SenderType, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, conversationID, id string) error
}

type StaffDirectory interface {
	LookupStaff(ctx context.Context, id string) (*StaffMember, error)
}

// Authenticator is the external collaborator resolving bearer credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type EventPublisher interface {
	Publish(event Event)
}

type PresenceStore interface {
	AddUserToRoom(ctx context.Context, conversationID, connectionID string, identity Identity) error
	RemoveUserFromRoom(ctx context.Context, conversationID, connectionID string) error
	GetRoomUsers(ctx context.Context, conversationID string) (*RoomPresence, error)
}

type PresentUser struct {
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type RoomPresence struct {
	Users             []PresentUser `json:"users"`
	CustomerConnected bool          `json:"customer_connected"`
	StaffConnected    bool          `json:"staff_connected"`
	TotalCustomer     int           `json:"total_customer"`
	TotalStaff        int           `json:"total_staff"`
}
