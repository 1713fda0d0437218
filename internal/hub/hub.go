package hub

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/presence"
)

// LobbyRoom receives conversation summaries for every staff connection.
const LobbyRoom = "staff:lobby"

const (
	shardCount      = 32
	presenceTimeout = 2 * time.Second
)

var errSlowConsumer = errors.New("outbound queue full")

type room struct {
	mu      sync.RWMutex
	members map[*Client]struct{}
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// Hub tracks live connections and which conversation rooms they joined. It
// never writes conversations; it only fans out events that already committed.
type Hub struct {
	shards [shardCount]*roomShard

	mu      sync.RWMutex
	clients map[string]*Client

	typing   *presence.TypingTracker
	presence domain.PresenceStore
}

func NewHub(typing *presence.TypingTracker, presenceStore domain.PresenceStore) *Hub {
	h := &Hub{
		clients:  make(map[string]*Client),
		typing:   typing,
		presence: presenceStore,
	}
	for i := range h.shards {
		h.shards[i] = &roomShard{rooms: make(map[string]*room)}
	}
	return h
}

func (h *Hub) shardFor(roomID string) *roomShard {
	f := fnv.New32a()
	f.Write([]byte(roomID))
	return h.shards[f.Sum32()%shardCount]
}

// Register admits a connection whose identity was resolved by the auth
// collaborator. Staff connections are subscribed to the lobby.
func (h *Hub) Register(c *Client) error {
	if err := c.Identity.Validate(); err != nil {
		c.Close()
		return err
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	if c.Identity.Role.IsStaff() {
		h.join(c, LobbyRoom)
	}
	log.Printf("Registered connection %s: %s (%s). Total connections: %d", c.ID, c.Identity.UserID, c.Identity.Role, total)
	return nil
}

// Unregister drops the connection from every room and clears its typing
// state. The returned entries were live and need a typing_stopped event.
func (h *Hub) Unregister(c *Client) []domain.Typing {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	total := len(h.clients)
	h.mu.Unlock()

	c.Close()
	if !ok {
		return nil
	}

	var stopped []domain.Typing
	for _, roomID := range c.Rooms() {
		if t, wasTyping := h.LeaveRoom(c, roomID); wasTyping {
			stopped = append(stopped, t)
		}
	}
	log.Printf("Unregistered connection %s: %s. Remaining connections: %d", c.ID, c.Identity.UserID, total)
	return stopped
}

// JoinRoom subscribes the connection to the conversation. Only the owning
// customer, the assigned staff member, or any staff while unassigned may join.
func (h *Hub) JoinRoom(c *Client, conv *domain.Conversation) error {
	if !h.registered(c) {
		return domain.Errorf(domain.ErrForbidden, "connection is not registered")
	}
	if !conv.IsParty(c.Actor()) {
		return domain.Errorf(domain.ErrForbidden, "not a party to this conversation")
	}
	if !h.join(c, conv.ID) {
		return nil
	}

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presence.AddUserToRoom(ctx, conv.ID, c.ID, c.Identity); err != nil {
			log.Printf("Failed to record presence for %s in %s: %v", c.Identity.UserID, conv.ID, err)
		}
	}
	return nil
}

// LeaveRoom unsubscribes the connection and stops its typing indicator.
func (h *Hub) LeaveRoom(c *Client, roomID string) (domain.Typing, bool) {
	if !c.removeRoom(roomID) {
		return domain.Typing{}, false
	}

	s := h.shardFor(roomID)
	s.mu.Lock()
	if r, ok := s.rooms[roomID]; ok {
		r.mu.Lock()
		delete(r.members, c)
		empty := len(r.members) == 0
		r.mu.Unlock()
		if empty {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	if roomID == LobbyRoom {
		return domain.Typing{}, false
	}
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presence.RemoveUserFromRoom(ctx, roomID, c.ID); err != nil {
			log.Printf("Failed to clear presence for %s in %s: %v", c.Identity.UserID, roomID, err)
		}
	}
	return h.typing.Stop(roomID, c.Identity.UserID, c.ID)
}

func (h *Hub) join(c *Client, roomID string) bool {
	if !c.addRoom(roomID) {
		return false
	}
	s := h.shardFor(roomID)
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{members: make(map[*Client]struct{})}
		s.rooms[roomID] = r
	}
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
	s.mu.Unlock()
	return true
}

func (h *Hub) registered(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c.ID]
	return ok
}

// StartTyping records a typing signal from a member of the room. started is
// true when a typing_started event should go out.
func (h *Hub) StartTyping(c *Client, conversationID string) (domain.Typing, bool, error) {
	if conversationID == LobbyRoom {
		return domain.Typing{}, false, domain.Errorf(domain.ErrInvalidArgument, "typing is only tracked in conversations")
	}
	if !c.InRoom(conversationID) {
		return domain.Typing{}, false, domain.Errorf(domain.ErrForbidden, "join the conversation first")
	}
	name := c.Actor().DisplayName()
	started := h.typing.Start(conversationID, c.Identity.UserID, c.ID, name)
	return domain.Typing{ConversationID: conversationID, SenderID: c.Identity.UserID, SenderName: name}, started, nil
}

func (h *Hub) StopTyping(c *Client, conversationID string) (domain.Typing, bool) {
	return h.typing.Stop(conversationID, c.Identity.UserID, c.ID)
}

func (h *Hub) Typing(conversationID string) []domain.Typing {
	return h.typing.Typing(conversationID)
}

// Broadcast delivers v to every member of the room without waiting on any of
// them. Members whose queue is full are dropped. It returns the number of
// members the frame was queued for.
func (h *Hub) Broadcast(roomID string, v interface{}) int {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode frame for room %s: %v", roomID, err)
		return 0
	}

	s := h.shardFor(roomID)
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	var slow []*Client
	delivered := 0
	r.mu.RLock()
	for c := range r.members {
		if c.enqueue(frame) {
			delivered++
		} else if !c.Closed() {
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range slow {
		log.Printf("Dropping slow connection %s (%s): %v", c.ID, c.Identity.UserID, errSlowConsumer)
		c.Close()
	}
	return delivered
}

// BroadcastEvent fans a committed event out to its conversation room and, for
// list-affecting events, a summary to the staff lobby.
func (h *Hub) BroadcastEvent(e domain.Event) {
	h.Broadcast(e.ConversationID, domain.WebSocketResponse{
		Type:    e.Type.Frame(),
		Success: true,
		Data:    eventPayload(e),
	})

	if e.Type.LobbyVisible() && e.Conversation != nil {
		frameType := domain.FrameConversationUpdated
		if e.Type == domain.EventConversationCreated {
			frameType = domain.FrameConversationCreated
		}
		h.Broadcast(LobbyRoom, domain.WebSocketResponse{
			Type:    frameType,
			Success: true,
			Data:    map[string]interface{}{"conversation": e.Conversation},
		})
	}
}

func eventPayload(e domain.Event) interface{} {
	switch e.Type {
	case domain.EventMessageCreated:
		return map[string]interface{}{"message": e.Message, "conversation": e.Conversation}
	case domain.EventMessageDeleted:
		return map[string]interface{}{"message": e.Message}
	case domain.EventReadReceipt:
		return e.Receipt
	case domain.EventTypingStarted, domain.EventTypingStopped:
		return e.Typing
	}
	return map[string]interface{}{"conversation": e.Conversation}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections joined to the room.
func (h *Hub) RoomSize(roomID string) int {
	s := h.shardFor(roomID)
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
