package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"supportchat-ws/internal/domain"
)

type MessageStore struct {
	mu             sync.RWMutex
	byConversation map[string][]*domain.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byConversation: make(map[string][]*domain.Message)}
}

func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byConversation[msg.ConversationID] = append(s.byConversation[msg.ConversationID], cloneMessage(msg))
	return nil
}

func (s *MessageStore) Get(ctx context.Context, conversationID, id string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.byConversation[conversationID] {
		if m.ID == id {
			return cloneMessage(m), nil
		}
	}
	return nil, domain.Errorf(domain.ErrNotFound, "message not found")
}

func (s *MessageStore) List(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, unavailable(err)
	}
	s.mu.RLock()
	visible := make([]domain.Message, 0)
	for _, m := range s.byConversation[conversationID] {
		if !m.IsDeleted {
			visible = append(visible, *cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	// Insertion order breaks createdAt ties.
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})

	page = page.Normalize()
	start, end := page.Window(len(visible))
	return visible[start:end], int64(len(visible)), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID string, senders []domain.SenderType, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.byConversation[conversationID] {
		if m.IsRead || !containsSender(senders, m.SenderType) {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		n++
	}
	return n, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, conversationID, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.byConversation[conversationID] {
		if m.ID == id {
			m.IsDeleted = true
			return nil
		}
	}
	return domain.Errorf(domain.ErrNotFound, "message not found")
}

func containsSender(senders []domain.SenderType, t domain.SenderType) bool {
	for _, s := range senders {
		if s == t {
			return true
		}
	}
	return false
}

func cloneMessage(m *domain.Message) *domain.Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	return &out
}

// StaffDirectory is a fixed set of staff members.
type StaffDirectory struct {
	mu    sync.RWMutex
	staff map[string]domain.StaffMember
}

func NewStaffDirectory(members ...domain.StaffMember) *StaffDirectory {
	d := &StaffDirectory{staff: make(map[string]domain.StaffMember)}
	for _, m := range members {
		d.staff[m.ID] = m
	}
	return d
}

func (d *StaffDirectory) Put(m domain.StaffMember) {
	d.mu.Lock()
	d.staff[m.ID] = m
	d.mu.Unlock()
}

func (d *StaffDirectory) LookupStaff(ctx context.Context, id string) (*domain.StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.staff[id]
	if !ok || !m.Role.IsStaff() {
		return nil, domain.Errorf(domain.ErrNotFound, "staff member %s not found", id)
	}
	return &m, nil
}
