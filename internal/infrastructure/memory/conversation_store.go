// Package memory holds process-local stores with the same atomicity and
// uniqueness guarantees as the MongoDB stores. Used by STORE_DRIVER=memory and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"supportchat-ws/internal/domain"
)

type ConversationStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Conversation
	order []string
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: make(map[string]*domain.Conversation)}
}

func (s *ConversationStore) FindActiveByCustomer(ctx context.Context, customerID string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Conversation
	for _, id := range s.order {
		c := s.byID[id]
		if c.CustomerID != customerID || !c.Status.Active() {
			continue
		}
		if found == nil || c.LastMessageAt.After(found.LastMessageAt) {
			found = c
		}
	}
	if found == nil {
		return nil, nil
	}
	return clone(found), nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[conv.ID]; exists {
		return domain.Errorf(domain.ErrConflict, "conversation %s already exists", conv.ID)
	}
	if conv.Status.Active() {
		for _, c := range s.byID {
			if c.CustomerID == conv.CustomerID && c.Status.Active() {
				return domain.Errorf(domain.ErrConflict, "customer already has an active conversation")
			}
		}
	}
	stored := clone(conv)
	stored.IsActive = stored.Status.Active()
	s.byID[conv.ID] = stored
	s.order = append(s.order, conv.ID)
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "conversation not found")
	}
	return clone(c), nil
}

func (s *ConversationStore) List(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, unavailable(err)
	}
	s.mu.RLock()
	matched := make([]domain.Conversation, 0)
	for _, id := range s.order {
		c := s.byID[id]
		if filter.CustomerID != "" && c.CustomerID != filter.CustomerID {
			continue
		}
		if filter.AssignedTo != "" && c.AssignedStaffID() != filter.AssignedTo {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		matched = append(matched, *clone(c))
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID > b.ID
	})

	page := filter.Page.Normalize()
	start, end := page.Window(len(matched))
	return matched[start:end], int64(len(matched)), nil
}

func (s *ConversationStore) Assign(ctx context.Context, id string, a domain.Assignment, at time.Time) (*domain.Conversation, error) {
	return s.mutate(ctx, id, func(c *domain.Conversation) error {
		if !c.Status.Active() {
			return domain.Errorf(domain.ErrInvalidArgument, "conversation is %s", c.Status)
		}
		setAssignment(c, a)
		c.UpdatedAt = at
		return nil
	})
}

func (s *ConversationStore) RecordMessage(ctx context.Context, id string, rec domain.MessageRecord) (*domain.Conversation, error) {
	return s.mutate(ctx, id, func(c *domain.Conversation) error {
		if !c.Status.Active() {
			return domain.Errorf(domain.ErrInvalidArgument, "conversation is %s", c.Status)
		}
		if rec.Staff != nil {
			holder := c.AssignedStaffID()
			if holder != "" && holder != rec.Staff.StaffID {
				return domain.Errorf(domain.ErrConflict, "conversation was assigned to another staff member")
			}
			if holder == "" {
				setAssignment(c, *rec.Staff)
			} else if c.Status == domain.StatusOpen {
				c.Status = domain.StatusPending
			}
		}
		switch rec.Sender {
		case domain.SenderCustomer:
			c.UnreadCount.Staff++
		case domain.SenderStaff:
			c.UnreadCount.Customer++
		}
		if !rec.At.Before(c.LastMessageAt) {
			c.LastMessageID = rec.MessageID
			c.LastMessage = rec.Preview
			c.LastMessageAt = rec.At
		}
		if rec.At.After(c.UpdatedAt) {
			c.UpdatedAt = rec.At
		}
		return nil
	})
}

func (s *ConversationStore) ResetUnread(ctx context.Context, id string, side domain.Side, at time.Time) (int, *domain.Conversation, error) {
	var prev int
	conv, err := s.mutate(ctx, id, func(c *domain.Conversation) error {
		prev = c.UnreadCount.Of(side)
		if side == domain.SideCustomer {
			c.UnreadCount.Customer = 0
		} else {
			c.UnreadCount.Staff = 0
		}
		if prev > 0 {
			c.UpdatedAt = at
		}
		return nil
	})
	return prev, conv, err
}

func (s *ConversationStore) UpdateStatus(ctx context.Context, id string, from, to domain.ConversationStatus, at time.Time) (*domain.Conversation, error) {
	return s.mutate(ctx, id, func(c *domain.Conversation) error {
		if c.Status != from {
			return domain.Errorf(domain.ErrConflict, "conversation status changed concurrently")
		}
		c.Status = to
		c.IsActive = to.Active()
		c.UpdatedAt = at
		return nil
	})
}

func (s *ConversationStore) mutate(ctx context.Context, id string, fn func(c *domain.Conversation) error) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "conversation not found")
	}
	next := clone(c)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.byID[id] = next
	return clone(next), nil
}

func setAssignment(c *domain.Conversation, a domain.Assignment) {
	staffID := a.StaffID
	c.AssignedAdminID, c.AssignedSellerID = nil, nil
	if a.Role == domain.RoleSeller {
		c.AssignedSellerID = &staffID
	} else {
		c.AssignedAdminID = &staffID
	}
	c.AssignedRole = a.Role
	if c.Status == domain.StatusOpen {
		c.Status = domain.StatusPending
	}
}

func clone(c *domain.Conversation) *domain.Conversation {
	out := *c
	if c.AssignedAdminID != nil {
		v := *c.AssignedAdminID
		out.AssignedAdminID = &v
	}
	if c.AssignedSellerID != nil {
		v := *c.AssignedSellerID
		out.AssignedSellerID = &v
	}
	return &out
}

func unavailable(err error) error {
	return domain.Errorf(domain.ErrUnavailable, "store unavailable: %v", err)
}
