package memory

import (
	"context"
	"testing"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newConversation(id, customer string) *domain.Conversation {
	return &domain.Conversation{
		ID:            id,
		CustomerID:    customer,
		Status:        domain.StatusOpen,
		IsActive:      true,
		LastMessageAt: epoch,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
}

func TestConversationStore_OneActivePerCustomer(t *testing.T) {
	s := NewConversationStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newConversation("c1", "cust-1")))
	assert.ErrorIs(t, s.Create(ctx, newConversation("c2", "cust-1")), domain.ErrConflict)
	require.NoError(t, s.Create(ctx, newConversation("c3", "cust-2")))

	_, err := s.UpdateStatus(ctx, "c1", domain.StatusOpen, domain.StatusResolved, epoch)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newConversation("c2", "cust-1")))

	active, err := s.FindActiveByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "c2", active.ID)

	none, err := s.FindActiveByCustomer(ctx, "cust-9")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestConversationStore_RecordMessage(t *testing.T) {
	s := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConversation("c1", "cust-1")))

	conv, err := s.RecordMessage(ctx, "c1", domain.MessageRecord{Preview: "hi", At: epoch.Add(time.Second), Sender: domain.SenderCustomer})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount.Staff)
	assert.Equal(t, domain.StatusOpen, conv.Status)

	claim := &domain.Assignment{StaffID: "staff-1", Role: domain.RoleSeller}
	conv, err = s.RecordMessage(ctx, "c1", domain.MessageRecord{Preview: "hello", At: epoch.Add(2 * time.Second), Sender: domain.SenderStaff, Staff: claim})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, conv.Status)
	assert.Equal(t, "staff-1", conv.AssignedStaffID())
	assert.Equal(t, 1, conv.UnreadCount.Customer)
	assert.Equal(t, "hello", conv.LastMessage)

	other := &domain.Assignment{StaffID: "staff-2", Role: domain.RoleAdmin}
	_, err = s.RecordMessage(ctx, "c1", domain.MessageRecord{Preview: "me too", At: epoch, Sender: domain.SenderStaff, Staff: other})
	assert.ErrorIs(t, err, domain.ErrConflict)

	conv, err = s.RecordMessage(ctx, "c1", domain.MessageRecord{Preview: "note", At: epoch, Sender: domain.SenderSystem})
	require.NoError(t, err)
	assert.Equal(t, domain.UnreadCount{Customer: 1, Staff: 1}, conv.UnreadCount)
	assert.Equal(t, "hello", conv.LastMessage)

	prev, conv, err := s.ResetUnread(ctx, "c1", domain.SideStaff, epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, prev)
	assert.Equal(t, 0, conv.UnreadCount.Staff)

	_, err = s.RecordMessage(ctx, "missing", domain.MessageRecord{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationStore_RecordMessageNeverMovesPreviewBack(t *testing.T) {
	s := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConversation("c1", "cust-1")))

	newer := domain.MessageRecord{MessageID: "m2", Preview: "second", At: epoch.Add(2 * time.Second), Sender: domain.SenderCustomer}
	older := domain.MessageRecord{MessageID: "m1", Preview: "first", At: epoch.Add(time.Second), Sender: domain.SenderCustomer}

	_, err := s.RecordMessage(ctx, "c1", newer)
	require.NoError(t, err)
	conv, err := s.RecordMessage(ctx, "c1", older)
	require.NoError(t, err)

	assert.Equal(t, "m2", conv.LastMessageID)
	assert.Equal(t, "second", conv.LastMessage)
	assert.True(t, conv.LastMessageAt.Equal(newer.At))
	assert.True(t, conv.UpdatedAt.Equal(newer.At))
	assert.Equal(t, 2, conv.UnreadCount.Staff)
}

func TestConversationStore_ReturnsCopies(t *testing.T) {
	s := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConversation("c1", "cust-1")))

	conv, err := s.Assign(ctx, "c1", domain.Assignment{StaffID: "staff-1", Role: domain.RoleAdmin}, epoch)
	require.NoError(t, err)
	*conv.AssignedAdminID = "tampered"

	again, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "staff-1", again.AssignedStaffID())
}

func TestConversationStore_CancelledContext(t *testing.T) {
	s := NewConversationStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestMessageStore(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()

	for i, body := range []string{"first", "second", "third"} {
		sender := domain.SenderCustomer
		if i == 1 {
			sender = domain.SenderStaff
		}
		require.NoError(t, s.Insert(ctx, &domain.Message{
			ID:             body,
			ConversationID: "c1",
			SenderType:     sender,
			Body:           body,
			CreatedAt:      epoch.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := s.MarkRead(ctx, "c1", []domain.SenderType{domain.SenderCustomer}, epoch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = s.MarkRead(ctx, "c1", []domain.SenderType{domain.SenderCustomer}, epoch)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	require.NoError(t, s.SoftDelete(ctx, "c1", "second"))
	items, total, err := s.List(ctx, "c1", domain.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Body)
	assert.Equal(t, "third", items[1].Body)
	assert.True(t, items[0].IsRead)

	_, err = s.Get(ctx, "c2", "first")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStaffDirectory(t *testing.T) {
	d := NewStaffDirectory(domain.StaffMember{ID: "s1", Name: "Sam", Role: domain.RoleSeller})
	member, err := d.LookupStaff(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", member.Name)

	d.Put(domain.StaffMember{ID: "c1", Role: domain.RoleCustomer})
	_, err = d.LookupStaff(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
