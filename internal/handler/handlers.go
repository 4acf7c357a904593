package handler

import (
	"github.com/gin-gonic/gin"
	"matchchat/internal/config"
	"matchchat/internal/realtime"
	"matchchat/internal/repository"
	"matchchat/internal/service"
	"matchchat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, repos *repository.Repositories, broker *realtime.Broker, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(repos.Health, log),
		Conversation: NewConversationHandler(services.Resolver, services.Aggregator, services.ReadState, log),
		Message:      NewMessageHandler(services.Message, services.ReadState, log),
		WebSocket:    NewWebSocketHandler(broker, services.Resolver, cfg.WS, log),
	}
}

// Register вешает маршруты на роутер. requireAuth обязателен для всего,
// кроме проверок здоровья; limit применяется к REST API.
func (h *Handlers) Register(router *gin.Engine, requireAuth, limit gin.HandlerFunc) {
	router.GET("/health", h.Health.Check)
	router.GET("/readyz", h.Health.Ready)

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(limit, requireAuth)
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", h.Conversation.Resolve)
			conversations.GET("", h.Conversation.List)
			conversations.GET("/:id", h.Conversation.Get)
			conversations.POST("/:id/read", h.Conversation.MarkRead)
			conversations.GET("/:id/unread", h.Conversation.UnreadCount)
			conversations.GET("/:id/messages", h.Message.List)
			conversations.GET("/:id/messages/latest", h.Message.Latest)
			conversations.POST("/:id/messages", h.Message.Send)
		}

		v1.POST("/messages/:id/read", h.Message.MarkRead)
		v1.GET("/me/unread", h.Conversation.TotalUnread)
	}

	// WebSocket endpoints
	ws := router.Group("/ws")
	ws.Use(requireAuth)
	{
		ws.GET("/conversations/:id", h.WebSocket.Conversation)
		ws.GET("/me", h.WebSocket.Me)
	}
}
