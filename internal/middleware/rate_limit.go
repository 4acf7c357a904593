package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"matchchat/internal/domain"
	"matchchat/internal/service"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	rule             domain.RateLimitRule
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, rule domain.RateLimitRule, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		rule:             rule,
		log:              log,
	}
}

// Limit ограничивает запросы с одного IP. Если счетчик недоступен, запрос пропускается.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimitService == nil || !m.rule.Enabled() {
			c.Next()
			return
		}

		allowed, remaining, err := m.rateLimitService.Allow(c.Request.Context(), m.rule, c.ClientIP())
		if err != nil {
			m.log.Warn("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			_ = c.Error(apperrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
