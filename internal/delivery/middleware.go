package delivery

import (
	"strings"

	"supportchat-ws/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const identityKey = "identity"

// authenticate resolves the bearer credential through the external auth
// collaborator. Browsers cannot set headers on WebSocket upgrades, so the
// token query parameter is accepted as well.
func (s *Server) authenticate(c *fiber.Ctx) error {
	token := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "missing bearer credential",
		})
	}

	identity, err := s.auth.Authenticate(c.UserContext(), token)
	if err == nil {
		err = identity.Validate()
	}
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "invalid or expired credential",
		})
	}

	c.Locals(identityKey, identity)
	return c.Next()
}

func identityFrom(c *fiber.Ctx) domain.Identity {
	identity, _ := c.Locals(identityKey).(domain.Identity)
	return identity
}

func actorFrom(c *fiber.Ctx) domain.Actor {
	return identityFrom(c).Actor()
}

// sendLimiter throttles REST message sends per user.
func (s *Server) sendLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        s.config.RateLimitMax,
		Expiration: s.config.RateLimitWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return identityFrom(c).UserID
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "too many messages, slow down",
			})
		},
	})
}
