package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[ConversationStatus][]ConversationStatus{
		StatusOpen:     {StatusPending, StatusResolved, StatusClosed},
		StatusPending:  {StatusResolved, StatusClosed},
		StatusResolved: {StatusClosed},
		StatusClosed:   nil,
	}
	all := []ConversationStatus{StatusOpen, StatusPending, StatusResolved, StatusClosed}
	for from, targets := range allowed {
		for _, to := range all {
			assert.Equal(t, contains(targets, to), from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusPending.Active())
	assert.False(t, StatusResolved.Active())
	assert.False(t, ConversationStatus("archived").Valid())
}

func contains(list []ConversationStatus, s ConversationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestConversationAccess(t *testing.T) {
	seller := "staff-seller"
	conv := &Conversation{CustomerID: "cust-1"}
	owner := Customer{ID: "cust-1"}
	stranger := Customer{ID: "cust-2"}
	sam := Staff{ID: seller, Role: RoleSeller}
	ada := Staff{ID: "staff-admin", Role: RoleAdmin}

	assert.True(t, conv.IsParty(owner))
	assert.False(t, conv.IsParty(stranger))
	assert.True(t, conv.IsParty(ada), "any staff while unassigned")

	conv.AssignedSellerID = &seller
	assert.True(t, conv.IsParty(sam))
	assert.False(t, conv.IsParty(ada))
	assert.True(t, conv.CanView(ada), "staff may still read")
	assert.False(t, conv.CanView(stranger))
}

func TestIdentity(t *testing.T) {
	assert.ErrorIs(t, Identity{Role: RoleCustomer}.Validate(), ErrForbidden)
	assert.ErrorIs(t, Identity{UserID: "u", Role: "guest"}.Validate(), ErrForbidden)

	actor := Identity{UserID: "u", Role: RoleAdmin}.Actor()
	assert.Equal(t, SideStaff, actor.Side())
	assert.Equal(t, "Support", actor.DisplayName())
	assert.Equal(t, SenderStaff, SenderTypeOf(actor))
	assert.Equal(t, SideCustomer, actor.Side().Other())
}

func TestPage(t *testing.T) {
	p := Page{Page: 0, Limit: 500}.Normalize()
	assert.Equal(t, Page{Page: 1, Limit: MaxPageLimit}, p)
	assert.Equal(t, DefaultPageLimit, Page{}.Normalize().Limit)

	p = Page{Page: 3, Limit: 10}
	start, end := p.Window(25)
	assert.Equal(t, 20, start)
	assert.Equal(t, 25, end)
	start, end = p.Window(5)
	assert.Equal(t, 5, start)
	assert.Equal(t, 5, end)

	assert.Equal(t, Pagination{Page: 3, Limit: 10, Total: 25, TotalPages: 3}, NewPagination(p, 25))
	assert.EqualValues(t, 0, NewPagination(p, 0).TotalPages)
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(ErrConflict, "conversation %s changed", "c1"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "conversation c1 changed", ErrorMessage(err))
	assert.Equal(t, "service temporarily unavailable, retry", ErrorMessage(fmt.Errorf("db: %w", ErrUnavailable)))
	assert.True(t, Retryable(ErrUnavailable))
	assert.False(t, Retryable(err))
	assert.Equal(t, "internal error", ErrorMessage(fmt.Errorf("boom")))
}

func TestEventFrames(t *testing.T) {
	assert.Equal(t, FrameNewMessage, EventMessageCreated.Frame())
	assert.Equal(t, FrameMessagesRead, EventReadReceipt.Frame())
	assert.Equal(t, FrameUserTyping, EventTypingStarted.Frame())
	assert.Equal(t, "status_changed", EventStatusChanged.Frame())
	assert.True(t, EventStatusChanged.LobbyVisible())
	assert.False(t, EventTypingStarted.LobbyVisible())
}
