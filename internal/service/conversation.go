package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"supportchat-ws/internal/domain"

	"github.com/google/uuid"
)

const previewLength = 120

type Options struct {
	StoreTimeout time.Duration
	Origin       string
	Now          func() time.Time
}

// ConversationService owns every conversation and message write. Events are
// published only after the write committed, while the conversation's lock is
// held, so each room observes writes in commit order.
type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	staff         domain.StaffDirectory
	publisher     domain.EventPublisher
	timeout       time.Duration
	origin        string
	now           func() time.Time
	locks         stripedMutex
}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.Event) {}

func NewConversationService(conversations domain.ConversationRepository, messages domain.MessageRepository, staff domain.StaffDirectory, publisher domain.EventPublisher, opts Options) *ConversationService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		staff:         staff,
		publisher:     publisher,
		timeout:       opts.StoreTimeout,
		origin:        opts.Origin,
		now:           opts.Now,
	}
}

type ListFilter struct {
	AssignedToMe bool
	Status       domain.ConversationStatus
	Page         domain.Page
}

type SendMessageInput struct {
	ConversationID string
	Body           string
	Kind           domain.MessageKind
	Attachments    []domain.Attachment
}

// GetOrCreateOpenConversation returns the customer's active conversation,
// creating one when there is none. Concurrent callers converge on one row:
// the loser of the store's uniqueness race re-reads the winner.
func (s *ConversationService) GetOrCreateOpenConversation(ctx context.Context, actor domain.Actor) (*domain.Conversation, bool, error) {
	customer, ok := actor.(domain.Customer)
	if !ok {
		return nil, false, domain.Errorf(domain.ErrForbidden, "only customers open support conversations")
	}

	existing, err := s.findActive(ctx, customer.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.timestamp()
	conv := &domain.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		CustomerID:    customer.ID,
		Status:        domain.StatusOpen,
		IsActive:      true,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.conversations.Create(ctx, conv)
	})
	if errors.Is(err, domain.ErrConflict) {
		winner, err := s.findActive(ctx, customer.ID)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, domain.Errorf(domain.ErrConflict, "conversation changed concurrently, retry")
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	log.Printf("Created conversation %s for customer %s", conv.ID, customer.ID)
	s.publish(domain.Event{Type: domain.EventConversationCreated, ConversationID: conv.ID, Conversation: conv})
	return conv, true, nil
}

func (s *ConversationService) GetConversation(ctx context.Context, actor domain.Actor, id string) (*domain.Conversation, error) {
	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.CanView(actor) {
		return nil, domain.Errorf(domain.ErrForbidden, "not a party to this conversation")
	}
	return conv, nil
}

// ListConversations returns the caller's visible conversations, most recent activity first.
func (s *ConversationService) ListConversations(ctx context.Context, actor domain.Actor, f ListFilter) ([]domain.Conversation, domain.Pagination, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Pagination{}, domain.Errorf(domain.ErrInvalidArgument, "unknown status %q", f.Status)
	}
	filter := domain.ConversationFilter{Status: f.Status, Page: f.Page.Normalize()}
	switch a := actor.(type) {
	case domain.Customer:
		filter.CustomerID = a.ID
	case domain.Staff:
		if f.AssignedToMe {
			filter.AssignedTo = a.ID
		}
	}

	var (
		items []domain.Conversation
		total int64
	)
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.conversations.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	return items, domain.NewPagination(filter.Page, total), nil
}

// Assign hands the conversation to staffID, clearing any other assignment and
// moving an open conversation to pending. A system note records the hand-off.
func (s *ConversationService) Assign(ctx context.Context, actor domain.Actor, id, staffID string, role domain.Role) (*domain.Conversation, error) {
	if _, ok := actor.(domain.Staff); !ok {
		return nil, domain.Errorf(domain.ErrForbidden, "only staff can assign conversations")
	}
	if role != "" && !role.IsStaff() {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "role must be admin or seller")
	}

	var member *domain.StaffMember
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		member, err = s.staff.LookupStaff(ctx, staffID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = member.Role
	}
	if role != member.Role {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "staff member %s is not a %s", staffID, role)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	var conv *domain.Conversation
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.conversations.Assign(ctx, id, domain.Assignment{StaffID: staffID, Role: role}, s.timestamp())
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Conversation %s assigned to %s %s by %s", id, role, staffID, actor.ActorID())
	s.publish(domain.Event{Type: domain.EventConversationAssigned, ConversationID: id, Conversation: conv})

	note := fmt.Sprintf("%s is now handling this conversation", displayOr(member.Name, "A support agent"))
	if _, err := s.appendSystemNote(ctx, conv, note); err != nil {
		log.Printf("Failed to record assignment note for conversation %s: %v", id, err)
	}
	return conv, nil
}

// SendMessage persists a message and updates the conversation summary and the
// other side's unread counter. Staff writing into an unassigned conversation
// claim it.
func (s *ConversationService) SendMessage(ctx context.Context, actor domain.Actor, in SendMessageInput) (*domain.Message, *domain.Conversation, error) {
	kind, err := messageKind(in)
	if err != nil {
		return nil, nil, err
	}

	conv, err := s.load(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsParty(actor) {
		return nil, nil, domain.Errorf(domain.ErrForbidden, "not a party to this conversation")
	}
	if !conv.Status.Active() {
		return nil, nil, domain.Errorf(domain.ErrInvalidArgument, "conversation is %s", conv.Status)
	}

	unlock := s.locks.lock(conv.ID)
	defer unlock()

	msg := &domain.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		SenderID:       actor.ActorID(),
		SenderType:     domain.SenderTypeOf(actor),
		SenderName:     actor.DisplayName(),
		Body:           in.Body,
		Kind:           kind,
		Attachments:    append([]domain.Attachment{}, in.Attachments...),
		CreatedAt:      s.timestamp(),
	}
	rec := domain.MessageRecord{MessageID: msg.ID, Preview: preview(msg), At: msg.CreatedAt, Sender: msg.SenderType}
	if staff, ok := actor.(domain.Staff); ok {
		msg.SenderRole = staff.Role
		rec.Staff = &domain.Assignment{StaffID: staff.ID, Role: staff.Role}
	} else {
		msg.SenderRole = domain.RoleCustomer
	}

	updated, err := s.commitMessage(ctx, msg, rec)
	if err != nil {
		return nil, nil, err
	}
	return msg, updated, nil
}

// ListMessages returns a page of history oldest first.
func (s *ConversationService) ListMessages(ctx context.Context, actor domain.Actor, conversationID string, page domain.Page) ([]domain.Message, domain.Pagination, error) {
	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return nil, domain.Pagination{}, err
	}
	page = page.Normalize()

	var (
		items []domain.Message
		total int64
	)
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.messages.List(ctx, conversationID, page)
		return err
	})
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	return items, domain.NewPagination(page, total), nil
}

// MarkRead acknowledges every unread message from the other side and zeroes
// the reader's counter. Repeating it changes nothing and publishes nothing.
// Staff may only acknowledge conversations they could also reply in.
func (s *ConversationService) MarkRead(ctx context.Context, actor domain.Actor, conversationID string) (int64, error) {
	target, err := s.load(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !target.IsParty(actor) {
		return 0, domain.Errorf(domain.ErrForbidden, "not a party to this conversation")
	}

	side := actor.Side()
	senders := []domain.SenderType{domain.SenderStaff, domain.SenderSystem}
	if side == domain.SideStaff {
		senders = []domain.SenderType{domain.SenderCustomer, domain.SenderSystem}
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	now := s.timestamp()
	var (
		count int64
		prev  int
		conv  *domain.Conversation
	)
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		if count, err = s.messages.MarkRead(ctx, conversationID, senders, now); err != nil {
			return err
		}
		prev, conv, err = s.conversations.ResetUnread(ctx, conversationID, side, now)
		return err
	})
	if err != nil {
		return 0, err
	}

	if count > 0 || prev > 0 {
		s.publish(domain.Event{
			Type:           domain.EventReadReceipt,
			ConversationID: conversationID,
			Conversation:   conv,
			Receipt: &domain.ReadReceipt{
				ConversationID: conversationID,
				ReaderSide:     side,
				ReaderID:       actor.ActorID(),
				Count:          count,
				ReadAt:         now,
			},
		})
	}
	return count, nil
}

// UpdateStatus moves the conversation along open -> pending -> resolved -> closed.
// Closing is allowed from any state and nothing leads back to open.
func (s *ConversationService) UpdateStatus(ctx context.Context, actor domain.Actor, id string, status domain.ConversationStatus) (*domain.Conversation, error) {
	if _, ok := actor.(domain.Staff); !ok {
		return nil, domain.Errorf(domain.ErrForbidden, "only staff can change conversation status")
	}
	if !status.Valid() {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "unknown status %q", status)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if !current.Status.CanTransition(status) {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "cannot change status from %s to %s", current.Status, status)
	}

	var conv *domain.Conversation
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.conversations.UpdateStatus(ctx, id, current.Status, status, s.timestamp())
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Conversation %s status %s -> %s by %s", id, current.Status, status, actor.ActorID())
	s.publish(domain.Event{Type: domain.EventStatusChanged, ConversationID: id, Conversation: conv})
	return conv, nil
}

// DeleteMessage soft-deletes a message. Customers may only delete their own.
func (s *ConversationService) DeleteMessage(ctx context.Context, actor domain.Actor, conversationID, messageID string) (*domain.Message, error) {
	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	var msg *domain.Message
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		msg, err = s.messages.Get(ctx, conversationID, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if _, isCustomer := actor.(domain.Customer); isCustomer && msg.SenderID != actor.ActorID() {
		return nil, domain.Errorf(domain.ErrForbidden, "cannot delete another participant's message")
	}
	if msg.IsDeleted {
		return msg, nil
	}

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.messages.SoftDelete(ctx, conversationID, messageID)
	})
	if err != nil {
		return nil, err
	}
	msg.IsDeleted = true
	s.publish(domain.Event{Type: domain.EventMessageDeleted, ConversationID: conversationID, Message: msg})
	return msg, nil
}

// UnreadSummary totals the caller's unread counters: a customer across their
// own conversations, staff across conversations assigned to them.
func (s *ConversationService) UnreadSummary(ctx context.Context, actor domain.Actor) (*domain.UnreadSummary, error) {
	summary := &domain.UnreadSummary{Side: actor.Side()}
	page := domain.Page{Page: 1, Limit: domain.MaxPageLimit}
	for {
		items, p, err := s.ListConversations(ctx, actor, ListFilter{AssignedToMe: actor.Side() == domain.SideStaff, Page: page})
		if err != nil {
			return nil, err
		}
		for _, c := range items {
			if n := c.UnreadCount.Of(actor.Side()); n > 0 {
				summary.Unread += n
				summary.Conversations++
			}
		}
		if int64(page.Page) >= p.TotalPages {
			return summary, nil
		}
		page.Page++
	}
}

func (s *ConversationService) appendSystemNote(ctx context.Context, conv *domain.Conversation, body string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		SenderID:       "system",
		SenderType:     domain.SenderSystem,
		SenderName:     "System",
		Body:           body,
		Kind:           domain.KindSystem,
		Attachments:    []domain.Attachment{},
		CreatedAt:      s.timestamp(),
	}
	_, err := s.commitMessage(ctx, msg, domain.MessageRecord{MessageID: msg.ID, Preview: preview(msg), At: msg.CreatedAt, Sender: domain.SenderSystem})
	return msg, err
}

// commitMessage inserts msg, then applies the conversation update. If the
// update is rejected the message is soft-deleted so it never surfaces. When
// the store times out the conversation is re-read: an update that landed
// anyway counts as committed. The caller holds the conversation lock.
func (s *ConversationService) commitMessage(ctx context.Context, msg *domain.Message, rec domain.MessageRecord) (*domain.Conversation, error) {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.messages.Insert(ctx, msg)
	})
	if err != nil {
		if domain.Retryable(err) {
			s.retract(msg)
		}
		return nil, err
	}

	var conv *domain.Conversation
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.conversations.RecordMessage(ctx, msg.ConversationID, rec)
		return err
	})
	if domain.Retryable(err) {
		if applied := s.recorded(msg); applied != nil {
			log.Printf("Conversation update for message %s applied despite %v", msg.ID, err)
			conv, err = applied, nil
		}
	}
	if err != nil {
		s.retract(msg)
		return nil, err
	}

	s.publish(domain.Event{Type: domain.EventMessageCreated, ConversationID: msg.ConversationID, Message: msg, Conversation: conv})
	return conv, nil
}

// recorded returns the conversation if its summary already points at msg.
func (s *ConversationService) recorded(msg *domain.Message) *domain.Conversation {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	conv, err := s.load(ctx, msg.ConversationID)
	if err != nil {
		log.Printf("Failed to re-read conversation %s after timed out update: %v", msg.ConversationID, err)
		return nil
	}
	if conv.LastMessageID != msg.ID {
		return nil
	}
	return conv
}

func (s *ConversationService) retract(msg *domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.messages.SoftDelete(ctx, msg.ConversationID, msg.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Printf("Failed to retract message %s: %v", msg.ID, err)
	}
}

func (s *ConversationService) findActive(ctx context.Context, customerID string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.conversations.FindActiveByCustomer(ctx, customerID)
		return err
	})
	return conv, err
}

func (s *ConversationService) load(ctx context.Context, id string) (*domain.Conversation, error) {
	if id == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "conversation_id is required")
	}
	var conv *domain.Conversation
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.conversations.Get(ctx, id)
		return err
	})
	return conv, err
}

// read runs an idempotent store read, retrying once when the store was unavailable.
func (s *ConversationService) read(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.withTimeout(ctx, fn)
	if domain.Retryable(err) && ctx.Err() == nil {
		err = s.withTimeout(ctx, fn)
	}
	return err
}

func (s *ConversationService) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && !domain.Retryable(err) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

func (s *ConversationService) publish(e domain.Event) {
	e.Origin = s.origin
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.timestamp()
	}
	s.publisher.Publish(e)
}

// timestamp truncates to the store's millisecond resolution so reads and
// writes agree; ties are broken by the time-ordered IDs.
func (s *ConversationService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func messageKind(in SendMessageInput) (domain.MessageKind, error) {
	if strings.TrimSpace(in.Body) == "" && len(in.Attachments) == 0 {
		return "", domain.Errorf(domain.ErrInvalidArgument, "message must have a body or at least one attachment")
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
		if len(in.Attachments) > 0 && strings.TrimSpace(in.Body) == "" {
			kind = in.Attachments[0].Kind
		}
	}
	if !kind.Valid() || kind == domain.KindSystem {
		return "", domain.Errorf(domain.ErrInvalidArgument, "unsupported message kind %q", kind)
	}
	for _, a := range in.Attachments {
		if a.URL == "" {
			return "", domain.Errorf(domain.ErrInvalidArgument, "attachment url is required")
		}
	}
	return kind, nil
}

func preview(m *domain.Message) string {
	text := strings.TrimSpace(m.Body)
	if text == "" && len(m.Attachments) > 0 {
		a := m.Attachments[0]
		text = fmt.Sprintf("[%s] %s", a.Kind, a.Filename)
		text = strings.TrimSpace(text)
	}
	if utf8.RuneCountInString(text) > previewLength {
		runes := []rune(text)
		text = string(runes[:previewLength]) + "…"
	}
	return text
}

func displayOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
