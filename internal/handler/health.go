package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"matchchat/internal/repository"
	"matchchat/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type HealthHandler struct {
	health repository.HealthChecker
	log    logger.Logger
}

func NewHealthHandler(health repository.HealthChecker, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		health: health,
		log:    log,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matchchat",
	})
}

// Ready проверяет хранилище и Redis; балансировщик снимает инстанс при 503.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		h.log.Warn("Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
