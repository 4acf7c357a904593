package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/middleware"
	"matchchat/internal/service"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type ConversationHandler struct {
	resolver   service.ResolverService
	aggregator service.AggregatorService
	readState  service.ReadStateService
	log        logger.Logger
}

func NewConversationHandler(
	resolver service.ResolverService,
	aggregator service.AggregatorService,
	readState service.ReadStateService,
	log logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		resolver:   resolver,
		aggregator: aggregator,
		readState:  readState,
		log:        log,
	}
}

type ResolveRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

// Resolve возвращает матч текущего пользователя с participant_id, создавая его при необходимости.
func (h *ConversationHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CodeBadRequest, "participant_id is required", err))
		return
	}

	userID := middleware.UserID(c)
	conv, err := h.resolver.Resolve(c.Request.Context(), userID, req.ParticipantID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	opts, err := domain.ParseListOptions(c.Query("filter"), c.Query("sort"), c.Query("q"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	views, err := h.aggregator.ListConversations(c.Request.Context(), middleware.UserID(c), opts)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	conv, err := h.resolver.Get(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// MarkRead отмечает прочитанными все входящие сообщения матча.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	marked, err := h.readState.MarkConversationRead(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	count, err := h.readState.UnreadCount(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// TotalUnread - счетчик для бейджа: сумма по всем принятым матчам.
func (h *ConversationHandler) TotalUnread(c *gin.Context) {
	total, err := h.readState.TotalUnread(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"total_unread": total})
}

func conversationID(c *gin.Context) (uuid.UUID, bool) {
	return uuidParam(c, "id", "invalid conversation ID")
}

func uuidParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(apperrors.New(apperrors.CodeBadRequest, message))
		return uuid.Nil, false
	}
	return id, true
}
