package handlers

import (
	"github.com/gin-gonic/gin"

	"tutorhub/signaling/middleware"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

// Routes gathers everything the HTTP surface is built from.
type Routes struct {
	Auth           services.Authenticator
	AllowedOrigins []string
	Logger         *utils.Logger
	Connections    func() int

	WebSocket     *WebSocketHandler
	Calls         *CallHandler
	Conversations *ConversationHandler
	Notifications *NotificationHandler
	Presence      *PresenceHandler
}

func NewRouter(r Routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(r.Logger))
	router.Use(middleware.CORS(r.AllowedOrigins))

	router.GET("/health", HealthCheck(r.Connections))

	// Authenticates itself so anonymous handshakes are still accepted.
	router.GET("/ws", r.WebSocket.Connect)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(r.Auth))
	{
		r.Calls.RegisterRoutes(v1)
		r.Conversations.RegisterRoutes(v1)
		r.Notifications.RegisterRoutes(v1)
		r.Presence.RegisterRoutes(v1)
	}
	return router
}
