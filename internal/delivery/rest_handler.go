package delivery

import (
	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/service"

	"github.com/gofiber/fiber/v2"
)

func pageFrom(c *fiber.Ctx) domain.Page {
	return domain.Page{Page: c.QueryInt("page", 1), Limit: c.QueryInt("limit", domain.DefaultPageLimit)}.Normalize()
}

func (s *Server) parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return domain.Errorf(domain.ErrInvalidArgument, "invalid request body")
	}
	if err := s.validate.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	filter := service.ListFilter{
		Status:       domain.ConversationStatus(c.Query("status")),
		AssignedToMe: c.QueryBool("assigned_to_me", false),
		Page:         pageFrom(c),
	}
	items, page, err := s.service.ListConversations(c.UserContext(), actorFrom(c), filter)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Conversations retrieved successfully",
		"data":       items,
		"pagination": page,
	})
}

// handleOpenConversation is the widget's REST fallback for join without an ID.
func (s *Server) handleOpenConversation(c *fiber.Ctx) error {
	conv, created, err := s.service.GetOrCreateOpenConversation(c.UserContext(), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"message": "Conversation ready",
		"data":    conv,
		"created": created,
	})
}

func (s *Server) handleUnreadSummary(c *fiber.Ctx) error {
	summary, err := s.service.UnreadSummary(c.UserContext(), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Unread summary retrieved successfully",
		"data":    summary,
	})
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conv, err := s.service.GetConversation(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation retrieved successfully",
		"data":    conv,
	})
}

// handleListMessages is the catch-up path; messages come back oldest first.
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	items, page, err := s.service.ListMessages(c.UserContext(), actorFrom(c), c.Params("id"), pageFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Messages retrieved successfully",
		"data":       items,
		"pagination": page,
	})
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req domain.SendMessageRequest
	if err := s.parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	msg, conv, err := s.service.SendMessage(c.UserContext(), actorFrom(c), service.SendMessageInput{
		ConversationID: c.Params("id"),
		Body:           req.Body,
		Kind:           req.Kind,
		Attachments:    req.Attachments,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Message sent",
		"data": fiber.Map{
			"message":      msg,
			"conversation": conv,
		},
	})
}

func (s *Server) handleDeleteMessage(c *fiber.Ctx) error {
	msg, err := s.service.DeleteMessage(c.UserContext(), actorFrom(c), c.Params("id"), c.Params("messageId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Message deleted",
		"data":    msg,
	})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	count, err := s.service.MarkRead(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Messages marked as read",
		"data":    fiber.Map{"count": count},
	})
}

func (s *Server) handleUpdateStatus(c *fiber.Ctx) error {
	var req domain.UpdateStatusRequest
	if err := s.parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	conv, err := s.service.UpdateStatus(c.UserContext(), actorFrom(c), c.Params("id"), req.Status)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation status updated",
		"data":    conv,
	})
}

func (s *Server) handleAssign(c *fiber.Ctx) error {
	var req domain.AssignRequest
	if err := s.parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	conv, err := s.service.Assign(c.UserContext(), actorFrom(c), c.Params("id"), req.StaffID, req.Role)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation assigned",
		"data":    conv,
	})
}

func (s *Server) handleGetPresence(c *fiber.Ctx) error {
	conv, err := s.service.GetConversation(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}

	data := fiber.Map{
		"conversation_id": conv.ID,
		"connections":     s.hub.RoomSize(conv.ID),
		"typing":          s.hub.Typing(conv.ID),
	}
	if s.presence != nil {
		status, err := s.presence.GetRoomUsers(c.UserContext(), conv.ID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"message": "Failed to get connection status",
			})
		}
		data["presence"] = status
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Connection status retrieved successfully",
		"data":    data,
	})
}
