package delivery

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/hub"
	"supportchat-ws/internal/service"

	"github.com/gofiber/websocket/v2"
)

const writeWait = 10 * time.Second

func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	identity, _ := c.Locals(identityKey).(domain.Identity)
	client := hub.NewClient(identity, s.config.WSSendBuffer)
	if err := s.hub.Register(client); err != nil {
		log.Printf("Rejected WebSocket connection: %v", err)
		c.WriteJSON(domain.WebSocketResponse{Type: domain.FrameError, Error: domain.ErrorMessage(err)})
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(c, client)
	}()

	defer func() {
		for _, t := range s.hub.Unregister(client) {
			s.publishTyping(domain.EventTypingStopped, t)
		}
		wg.Wait()
		log.Printf("WebSocket client disconnected: %s (%s)", identity.UserID, identity.Role)
	}()

	client.Reply(domain.WebSocketResponse{
		Type:    domain.FrameConnectionEstablished,
		Success: true,
		Data: map[string]interface{}{
			"connection_id": client.ID,
			"user_id":       identity.UserID,
			"role":          identity.Role,
			"timestamp":     time.Now().Format(time.RFC3339),
		},
	})
	log.Printf("WebSocket client connected: %s (%s) as %s", identity.UserID, identity.Role, client.ID)

	c.SetReadLimit(s.config.WSMaxMessageSize)
	c.SetReadDeadline(time.Now().Add(s.config.WSPongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(s.config.WSPongWait))
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error for user %s: %v", identity.UserID, err)
			}
			return
		}
		c.SetReadDeadline(time.Now().Add(s.config.WSPongWait))

		var msg domain.WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.ReplyError("malformed frame")
			continue
		}
		s.handleFrame(client, &msg)
		if client.Closed() {
			return
		}
	}
}

// writePump is the only writer on the connection. It exits when the client is
// dropped or a write fails, closing the socket so the read loop ends too.
func (s *Server) writePump(c *websocket.Conn, client *hub.Client) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in writePump for %s: %v", client.ID, r)
		}
	}()

	ticker := time.NewTicker(s.config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done():
			c.SetWriteDeadline(time.Now().Add(writeWait))
			c.WriteMessage(websocket.CloseMessage, []byte{})
			c.Close()
			return
		case frame := <-client.Send():
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("Failed to write to client %s: %v", client.ID, err)
				client.Close()
				c.Close()
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				c.Close()
				return
			}
		}
	}
}

func (s *Server) handleFrame(client *hub.Client, msg *domain.WebSocketMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling %s from %s: %v", msg.Type, client.Identity.UserID, r)
			client.ReplyError("internal error")
		}
	}()

	ctx := context.Background()
	var err error
	switch msg.Type {
	case domain.FrameJoinConversation:
		err = s.onJoin(ctx, client, msg.Data)
	case domain.FrameLeaveConversation:
		err = s.onLeave(client, msg.Data)
	case domain.FrameSendMessage:
		err = s.onSendMessage(ctx, client, msg.Data)
	case domain.FrameTyping:
		err = s.onTyping(client, msg.Data)
	case domain.FrameStopTyping:
		err = s.onStopTyping(client, msg.Data)
	case domain.FrameMarkAsRead:
		err = s.onMarkAsRead(ctx, client, msg.Data)
	case domain.FramePing:
		client.Reply(domain.WebSocketResponse{
			Type:    domain.FramePong,
			Success: true,
			Data:    map[string]interface{}{"timestamp": time.Now().Format(time.RFC3339)},
		})
	default:
		log.Printf("Unknown message type: %s from user %s", msg.Type, client.Identity.UserID)
		err = domain.Errorf(domain.ErrInvalidArgument, "Unknown message type: %s", msg.Type)
	}

	// Failures go to the originating connection only.
	if err != nil {
		client.ReplyError(domain.ErrorMessage(err))
	}
}

func (s *Server) decode(data json.RawMessage, out interface{}) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return domain.Errorf(domain.ErrInvalidArgument, "invalid frame payload")
		}
	}
	if err := s.validate.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Server) onJoin(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var req domain.JoinConversationRequest
	if err := s.decode(data, &req); err != nil {
		return err
	}

	var (
		conv    *domain.Conversation
		created bool
		err     error
	)
	if req.ConversationID == "" {
		conv, created, err = s.service.GetOrCreateOpenConversation(ctx, client.Actor())
	} else {
		conv, err = s.service.GetConversation(ctx, client.Actor(), req.ConversationID)
	}
	if err != nil {
		return err
	}
	if err := s.hub.JoinRoom(client, conv); err != nil {
		return err
	}

	if created {
		client.Reply(domain.WebSocketResponse{
			Type:    domain.FrameConversationCreated,
			Success: true,
			Data:    map[string]interface{}{"conversation": conv},
		})
	}
	return client.Reply(domain.WebSocketResponse{
		Type:    domain.FrameConversationJoined,
		Success: true,
		Data:    domain.ConversationJoinedResponse{Conversation: conv, Typing: s.hub.Typing(conv.ID)},
	})
}

func (s *Server) onLeave(client *hub.Client, data json.RawMessage) error {
	var req domain.ConversationRef
	if err := s.decode(data, &req); err != nil {
		return err
	}
	if t, wasTyping := s.hub.LeaveRoom(client, req.ConversationID); wasTyping {
		s.publishTyping(domain.EventTypingStopped, t)
	}
	return client.Reply(domain.WebSocketResponse{
		Type:    domain.FrameConversationLeft,
		Success: true,
		Data:    req,
	})
}

// onSendMessage joins the sender to the room first so the broadcast that
// follows the write reaches them as well.
func (s *Server) onSendMessage(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var req domain.SendMessageRequest
	if err := s.decode(data, &req); err != nil {
		return err
	}
	if req.ConversationID == "" {
		return domain.Errorf(domain.ErrInvalidArgument, "conversation_id is required")
	}

	if !client.InRoom(req.ConversationID) {
		conv, err := s.service.GetConversation(ctx, client.Actor(), req.ConversationID)
		if err != nil {
			return err
		}
		if err := s.hub.JoinRoom(client, conv); err != nil {
			return err
		}
	}

	_, _, err := s.service.SendMessage(ctx, client.Actor(), service.SendMessageInput{
		ConversationID: req.ConversationID,
		Body:           req.Body,
		Kind:           req.Kind,
		Attachments:    req.Attachments,
	})
	if err != nil {
		log.Printf("Send failed for %s in %s: %v", client.Identity.UserID, req.ConversationID, err)
		return err
	}

	if t, wasTyping := s.hub.StopTyping(client, req.ConversationID); wasTyping {
		s.publishTyping(domain.EventTypingStopped, t)
	}
	return nil
}

func (s *Server) onTyping(client *hub.Client, data json.RawMessage) error {
	var req domain.ConversationRef
	if err := s.decode(data, &req); err != nil {
		return err
	}
	t, started, err := s.hub.StartTyping(client, req.ConversationID)
	if err != nil {
		return err
	}
	if started {
		s.publishTyping(domain.EventTypingStarted, t)
	}
	return nil
}

func (s *Server) onStopTyping(client *hub.Client, data json.RawMessage) error {
	var req domain.ConversationRef
	if err := s.decode(data, &req); err != nil {
		return err
	}
	if t, ok := s.hub.StopTyping(client, req.ConversationID); ok {
		s.publishTyping(domain.EventTypingStopped, t)
	}
	return nil
}

func (s *Server) onMarkAsRead(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var req domain.ConversationRef
	if err := s.decode(data, &req); err != nil {
		return err
	}
	_, err := s.service.MarkRead(ctx, client.Actor(), req.ConversationID)
	return err
}

func (s *Server) publishTyping(eventType domain.EventType, t domain.Typing) {
	typing := t
	s.dispatcher.Publish(domain.Event{
		Type:           eventType,
		ConversationID: t.ConversationID,
		OccurredAt:     time.Now().UTC(),
		Typing:         &typing,
	})
}

// PublishTypingExpired announces entries the typing sweeper removed.
func (s *Server) PublishTypingExpired(t domain.Typing) {
	s.publishTyping(domain.EventTypingStopped, t)
}
