package delivery

import (
	"log"

	"supportchat-ws/internal/config"
	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/hub"
	"supportchat-ws/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

type Server struct {
	config     *config.Config
	service    *service.ConversationService
	hub        *hub.Hub
	dispatcher *EventDispatcher
	auth       domain.Authenticator
	presence   domain.PresenceStore
	validate   *validator.Validate
	app        *fiber.App
}

func NewServer(config *config.Config, svc *service.ConversationService, h *hub.Hub, dispatcher *EventDispatcher, auth domain.Authenticator, presence domain.PresenceStore) *Server {
	s := &Server{
		config:     config,
		service:    svc,
		hub:        h,
		dispatcher: dispatcher,
		auth:       auth,
		presence:   presence,
		validate:   validator.New(),
	}
	s.app = s.routes()
	return s
}

// App exposes the configured fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Support Chat WebSocket & REST Server",
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		ExposeHeaders:    "Content-Length,Content-Type",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400,
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
		log.Printf("CORS configured for production with origins: %s", corsConfig.AllowOrigins)
	} else {
		corsConfig.AllowOrigins = "*"
		corsConfig.AllowCredentials = false // wildcard origin cannot carry credentials
		log.Printf("CORS configured for development with wildcard origin")
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"message":     "Support chat server is running",
			"instance":    s.config.InstanceID,
			"environment": s.config.Environment,
			"connections": s.hub.ConnectionCount(),
		})
	})

	api := app.Group("/api", s.authenticate)
	conversations := api.Group("/conversations")
	conversations.Get("/", s.handleListConversations)
	conversations.Post("/", s.handleOpenConversation)
	conversations.Get("/unread", s.handleUnreadSummary)
	conversations.Get("/:id", s.handleGetConversation)
	conversations.Get("/:id/messages", s.handleListMessages)
	conversations.Post("/:id/messages", s.sendLimiter(), s.handleSendMessage)
	conversations.Delete("/:id/messages/:messageId", s.handleDeleteMessage)
	conversations.Post("/:id/read", s.handleMarkRead)
	conversations.Put("/:id/status", s.handleUpdateStatus)
	conversations.Post("/:id/assign", s.handleAssign)
	conversations.Get("/:id/presence", s.handleGetPresence)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, s.authenticate)
	app.Get("/ws", websocket.New(s.handleWebSocket))

	return app
}

func (s *Server) Start() error {
	log.Printf("Support chat server (WebSocket + REST) starting on port %s", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
