package domain

import (
	"time"
)

type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusPending  ConversationStatus = "pending"
	StatusResolved ConversationStatus = "resolved"
	StatusClosed   ConversationStatus = "closed"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Active reports whether the status is non-terminal. A customer owns at most
// one active conversation at a time.
func (s ConversationStatus) Active() bool {
	return s == StatusOpen || s == StatusPending
}

// CanTransition reports whether a staff status update from s to next is allowed.
// Open is only reachable at creation and closed is terminal.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusPending || next == StatusResolved || next == StatusClosed
	case StatusPending:
		return next == StatusResolved || next == StatusClosed
	case StatusResolved:
		return next == StatusClosed
	}
	return false
}

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderStaff    SenderType = "staff"
	SenderSystem   SenderType = "system"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

type UnreadCount struct {
	Customer int `json:"customer" bson:"customer"`
	Staff    int `json:"staff" bson:"staff"`
}

// Of returns the counter owned by side.
func (u UnreadCount) Of(side Side) int {
	if side == SideCustomer {
		return u.Customer
	}
	return u.Staff
}

type Conversation struct {
	ID               string             `json:"id" bson:"_id"`
	CustomerID       string             `json:"customer_id" bson:"customerId"`
	AssignedAdminID  *string            `json:"assigned_admin_id" bson:"assignedAdminId"`
	AssignedSellerID *string            `json:"assigned_seller_id" bson:"assignedSellerId"`
	AssignedRole     Role               `json:"assigned_role,omitempty" bson:"assignedRole,omitempty"`
	Status           ConversationStatus `json:"status" bson:"status"`
	IsActive         bool               `json:"-" bson:"isActive"`
	LastMessageID    string             `json:"last_message_id,omitempty" bson:"lastMessageId,omitempty"`
	LastMessage      string             `json:"last_message" bson:"lastMessage"`
	LastMessageAt    time.Time          `json:"last_message_at" bson:"lastMessageAt"`
	UnreadCount      UnreadCount        `json:"unread_count" bson:"unreadCount"`
	CreatedAt        time.Time          `json:"created_at" bson:"createdAt"`
	UpdatedAt        time.Time          `json:"updated_at" bson:"updatedAt"`
}

// AssignedStaffID returns whichever staff member currently holds the
// conversation, or "" when unassigned.
func (c *Conversation) AssignedStaffID() string {
	if c.AssignedAdminID != nil {
		return *c.AssignedAdminID
	}
	if c.AssignedSellerID != nil {
		return *c.AssignedSellerID
	}
	return ""
}

func (c *Conversation) IsAssigned() bool {
	return c.AssignedStaffID() != ""
}

// CanView reports whether actor may read the conversation and its history.
// Any staff member may read any conversation in the support pool.
func (c *Conversation) CanView(actor Actor) bool {
	switch a := actor.(type) {
	case Customer:
		return a.ID == c.CustomerID
	case Staff:
		return true
	}
	return false
}

// IsParty reports whether actor may join the live room or write into it: the
// owning customer, the assigned staff member, or any staff while unassigned.
func (c *Conversation) IsParty(actor Actor) bool {
	switch a := actor.(type) {
	case Customer:
		return a.ID == c.CustomerID
	case Staff:
		assigned := c.AssignedStaffID()
		return assigned == "" || assigned == a.ID
	}
	return false
}

type Attachment struct {
	Kind     MessageKind `json:"kind" bson:"kind" validate:"required,oneof=image file"`
	URL      string      `json:"url" bson:"url" validate:"required,max=2048"`
	Filename string      `json:"filename" bson:"filename" validate:"max=255"`
	Size     int64       `json:"size" bson:"size" validate:"gte=0"`
}

type Message struct {
	ID             string       `json:"id" bson:"_id"`
	ConversationID string       `json:"conversation_id" bson:"conversationId"`
	SenderID       string       `json:"sender_id" bson:"senderId"`
	SenderType     SenderType   `json:"sender_type" bson:"senderType"`
	SenderRole     Role         `json:"sender_role,omitempty" bson:"senderRole,omitempty"`
	SenderName     string       `json:"sender_name" bson:"senderName"`
	Body           string       `json:"body" bson:"body"`
	Kind           MessageKind  `json:"kind" bson:"kind"`
	Attachments    []Attachment `json:"attachments" bson:"attachments"`
	IsRead         bool         `json:"is_read" bson:"isRead"`
	ReadAt         *time.Time   `json:"read_at" bson:"readAt"`
	IsDeleted      bool         `json:"is_deleted" bson:"isDeleted"`
	CreatedAt      time.Time    `json:"created_at" bson:"createdAt"`
}

// StaffMember is a support agent known to the storefront's user directory.
type StaffMember struct {
	ID   string `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
	Role Role   `json:"role" bson:"role"`
}
