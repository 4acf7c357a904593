package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"matchchat/internal/domain"
	"matchchat/internal/middleware"
	"matchchat/internal/service"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type MessageHandler struct {
	messages  service.MessageService
	readState service.ReadStateService
	log       logger.Logger
}

func NewMessageHandler(messages service.MessageService, readState service.ReadStateService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		readState: readState,
		log:       log,
	}
}

// List отдает журнал по возрастанию: after - курсор по seq, limit до 200.
func (h *MessageHandler) List(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	page, err := parsePage(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	messages, err := h.messages.List(c.Request.Context(), id, middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func parsePage(c *gin.Context) (domain.MessagePage, error) {
	var page domain.MessagePage
	if raw := c.Query("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			return page, apperrors.New(apperrors.CodeBadRequest, "invalid after cursor")
		}
		page.After = after
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return page, apperrors.New(apperrors.CodeBadRequest, "invalid limit")
		}
		page.Limit = limit
	}
	return page.Normalize(), nil
}

// Latest отдает {"message": null}, если переписка пуста.
func (h *MessageHandler) Latest(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	msg, err := h.messages.Latest(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CodeBadRequest, "invalid request body", err))
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), id, middleware.UserID(c), req.Content)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkRead отмечает одно сообщение; повторная отметка вернет updated=false.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	id, ok := uuidParam(c, "id", "invalid message ID")
	if !ok {
		return
	}

	msg, updated, err := h.readState.MarkRead(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg, "updated": updated})
}
