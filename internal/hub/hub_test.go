package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]domain.Identity
}

func newFakePresence() *fakePresence {
	return &fakePresence{rooms: make(map[string]map[string]domain.Identity)}
}

func (p *fakePresence) AddUserToRoom(_ context.Context, conversationID, connectionID string, identity domain.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[conversationID] == nil {
		p.rooms[conversationID] = make(map[string]domain.Identity)
	}
	p.rooms[conversationID][connectionID] = identity
	return nil
}

func (p *fakePresence) RemoveUserFromRoom(_ context.Context, conversationID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms[conversationID], connectionID)
	return nil
}

func (p *fakePresence) GetRoomUsers(_ context.Context, conversationID string) (*domain.RoomPresence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &domain.RoomPresence{TotalCustomer: len(p.rooms[conversationID])}, nil
}

func (p *fakePresence) count(conversationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[conversationID])
}

var (
	customer = domain.Identity{UserID: "cust-1", Role: domain.RoleCustomer, Name: "Carol"}
	agent    = domain.Identity{UserID: "staff-1", Role: domain.RoleAdmin, Name: "Ada"}
	other    = domain.Identity{UserID: "staff-2", Role: domain.RoleSeller, Name: "Sam"}
)

func newTestHub() (*Hub, *fakePresence) {
	p := newFakePresence()
	return NewHub(presence.NewTypingTracker(3*time.Second), p), p
}

func conversation(id string) *domain.Conversation {
	return &domain.Conversation{ID: id, CustomerID: customer.UserID, Status: domain.StatusOpen}
}

func register(t *testing.T, h *Hub, identity domain.Identity, buffer int) *Client {
	t.Helper()
	c := NewClient(identity, buffer)
	require.NoError(t, h.Register(c))
	return c
}

func drain(c *Client) []domain.WebSocketResponse {
	var out []domain.WebSocketResponse
	for {
		select {
		case frame := <-c.Send():
			var resp domain.WebSocketResponse
			if err := json.Unmarshal(frame, &resp); err == nil {
				out = append(out, resp)
			}
		default:
			return out
		}
	}
}

func frameTypes(frames []domain.WebSocketResponse) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func TestRegister_RejectsInvalidIdentity(t *testing.T) {
	h, _ := newTestHub()

	c := NewClient(domain.Identity{UserID: "", Role: domain.RoleCustomer}, 4)
	assert.ErrorIs(t, h.Register(c), domain.ErrForbidden)
	assert.True(t, c.Closed())

	c = NewClient(domain.Identity{UserID: "x", Role: "guest"}, 4)
	assert.ErrorIs(t, h.Register(c), domain.ErrForbidden)
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestJoinRoom_PartyRules(t *testing.T) {
	h, p := newTestHub()
	conv := conversation("conv-1")

	owner := register(t, h, customer, 4)
	stranger := register(t, h, domain.Identity{UserID: "cust-2", Role: domain.RoleCustomer}, 4)
	staff := register(t, h, agent, 4)
	otherStaff := register(t, h, other, 4)

	require.NoError(t, h.JoinRoom(owner, conv))
	assert.ErrorIs(t, h.JoinRoom(stranger, conv), domain.ErrForbidden)
	require.NoError(t, h.JoinRoom(staff, conv), "any staff may join while unassigned")

	assigned := agent.UserID
	conv.AssignedAdminID = &assigned
	assert.ErrorIs(t, h.JoinRoom(otherStaff, conv), domain.ErrForbidden)

	unregistered := NewClient(customer, 4)
	assert.ErrorIs(t, h.JoinRoom(unregistered, conv), domain.ErrForbidden)

	assert.Equal(t, 2, h.RoomSize(conv.ID))
	assert.Equal(t, 2, p.count(conv.ID))
}

func TestBroadcast_FansOutToRoomOnly(t *testing.T) {
	h, _ := newTestHub()
	a := register(t, h, customer, 8)
	b := register(t, h, agent, 8)
	outsider := register(t, h, domain.Identity{UserID: "cust-9", Role: domain.RoleCustomer}, 8)
	require.NoError(t, h.JoinRoom(a, conversation("conv-1")))
	require.NoError(t, h.JoinRoom(b, conversation("conv-1")))

	n := h.Broadcast("conv-1", domain.WebSocketResponse{Type: "hello", Success: true})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"hello"}, frameTypes(drain(a)))
	assert.Equal(t, []string{"hello"}, frameTypes(drain(b)))
	assert.Empty(t, drain(outsider))

	assert.Equal(t, 0, h.Broadcast("conv-unknown", domain.WebSocketResponse{Type: "x"}))
}

func TestBroadcast_PreservesOrder(t *testing.T) {
	h, _ := newTestHub()
	c := register(t, h, customer, 128)
	require.NoError(t, h.JoinRoom(c, conversation("conv-1")))

	for i := 0; i < 100; i++ {
		h.Broadcast("conv-1", domain.WebSocketResponse{Type: fmt.Sprintf("m%03d", i)})
	}
	frames := drain(c)
	require.Len(t, frames, 100)
	for i, f := range frames {
		assert.Equal(t, fmt.Sprintf("m%03d", i), f.Type)
	}
}

func TestBroadcast_DropsSlowConsumerWithoutBlocking(t *testing.T) {
	h, _ := newTestHub()
	slow := register(t, h, customer, 2)
	fast := register(t, h, agent, 64)
	require.NoError(t, h.JoinRoom(slow, conversation("conv-1")))
	require.NoError(t, h.JoinRoom(fast, conversation("conv-1")))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Broadcast("conv-1", domain.WebSocketResponse{Type: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
	assert.True(t, slow.Closed())
	assert.False(t, fast.Closed())
	assert.Len(t, drain(fast), 10)
}

func TestBroadcastEvent_LobbyAndFrames(t *testing.T) {
	h, _ := newTestHub()
	owner := register(t, h, customer, 16)
	staff := register(t, h, agent, 16)
	conv := conversation("conv-1")
	require.NoError(t, h.JoinRoom(owner, conv))

	h.BroadcastEvent(domain.Event{
		Type:           domain.EventMessageCreated,
		ConversationID: conv.ID,
		Conversation:   conv,
		Message:        &domain.Message{ID: "m1", ConversationID: conv.ID, Body: "hi"},
	})
	h.BroadcastEvent(domain.Event{
		Type:           domain.EventTypingStarted,
		ConversationID: conv.ID,
		Typing:         &domain.Typing{ConversationID: conv.ID, SenderID: customer.UserID},
	})

	assert.Equal(t, []string{domain.FrameNewMessage, domain.FrameUserTyping}, frameTypes(drain(owner)))
	assert.Equal(t, []string{domain.FrameConversationUpdated}, frameTypes(drain(staff)), "lobby sees summaries, not typing")
}

func TestTypingRequiresMembershipAndClearsOnUnregister(t *testing.T) {
	h, p := newTestHub()
	c := register(t, h, customer, 8)
	conv := conversation("conv-1")

	_, _, err := h.StartTyping(c, conv.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, h.JoinRoom(c, conv))
	typing, started, err := h.StartTyping(c, conv.ID)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "Carol", typing.SenderName)

	_, started, err = h.StartTyping(c, conv.ID)
	require.NoError(t, err)
	assert.False(t, started, "refresh does not restart")
	assert.Len(t, h.Typing(conv.ID), 1)

	stopped := h.Unregister(c)
	require.Len(t, stopped, 1)
	assert.Equal(t, customer.UserID, stopped[0].SenderID)
	assert.Empty(t, h.Typing(conv.ID))
	assert.Equal(t, 0, h.RoomSize(conv.ID))
	assert.Equal(t, 0, p.count(conv.ID))
	assert.Equal(t, 0, h.ConnectionCount())
	assert.True(t, c.Closed())
}

func TestTypingSurvivesClosingAnIdleTab(t *testing.T) {
	h, _ := newTestHub()
	conv := conversation("conv-1")
	typingTab := register(t, h, customer, 8)
	idleTab := register(t, h, customer, 8)
	require.NoError(t, h.JoinRoom(typingTab, conv))
	require.NoError(t, h.JoinRoom(idleTab, conv))

	_, started, err := h.StartTyping(typingTab, conv.ID)
	require.NoError(t, err)
	assert.True(t, started)

	assert.Empty(t, h.Unregister(idleTab))
	_, wasTyping := h.StopTyping(idleTab, conv.ID)
	assert.False(t, wasTyping)
	require.Len(t, h.Typing(conv.ID), 1)

	stopped := h.Unregister(typingTab)
	require.Len(t, stopped, 1)
	assert.Equal(t, customer.UserID, stopped[0].SenderID)
	assert.Empty(t, h.Typing(conv.ID))
}

func TestTypingEndsWhenLastTypingTabStops(t *testing.T) {
	h, _ := newTestHub()
	conv := conversation("conv-1")
	a := register(t, h, customer, 8)
	b := register(t, h, customer, 8)
	require.NoError(t, h.JoinRoom(a, conv))
	require.NoError(t, h.JoinRoom(b, conv))

	_, started, err := h.StartTyping(a, conv.ID)
	require.NoError(t, err)
	assert.True(t, started)
	_, started, err = h.StartTyping(b, conv.ID)
	require.NoError(t, err)
	assert.False(t, started, "same sender already typing")

	_, wasTyping := h.StopTyping(a, conv.ID)
	assert.False(t, wasTyping)
	assert.Len(t, h.Typing(conv.ID), 1)

	typing, wasTyping := h.StopTyping(b, conv.ID)
	assert.True(t, wasTyping)
	assert.Equal(t, "Carol", typing.SenderName)
	assert.Empty(t, h.Typing(conv.ID))
}

func TestTypingRejectedInLobby(t *testing.T) {
	h, _ := newTestHub()
	staff := register(t, h, agent, 8)
	require.True(t, staff.InRoom(LobbyRoom))

	_, started, err := h.StartTyping(staff, LobbyRoom)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.False(t, started)
	assert.Empty(t, h.Typing(LobbyRoom))
}

func TestLeaveRoom(t *testing.T) {
	h, _ := newTestHub()
	c := register(t, h, customer, 8)
	require.NoError(t, h.JoinRoom(c, conversation("conv-1")))
	require.NoError(t, h.JoinRoom(c, conversation("conv-2")))
	assert.Equal(t, []string{"conv-1", "conv-2"}, c.Rooms())

	h.LeaveRoom(c, "conv-1")
	assert.Equal(t, []string{"conv-2"}, c.Rooms())
	assert.Equal(t, 0, h.Broadcast("conv-1", domain.WebSocketResponse{Type: "x"}))
	assert.Equal(t, 1, h.Broadcast("conv-2", domain.WebSocketResponse{Type: "x"}))
}

func TestConcurrentJoinBroadcastLeave(t *testing.T) {
	h, _ := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(domain.Identity{UserID: customer.UserID, Role: domain.RoleCustomer}, 256)
			if !assert.NoError(t, h.Register(c)) {
				return
			}
			roomID := fmt.Sprintf("conv-%d", i%5)
			conv := &domain.Conversation{ID: roomID, CustomerID: customer.UserID, Status: domain.StatusOpen}
			assert.NoError(t, h.JoinRoom(c, conv))
			for j := 0; j < 20; j++ {
				h.Broadcast(roomID, domain.WebSocketResponse{Type: "x"})
			}
			h.Unregister(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, h.ConnectionCount())
}
