package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

// ErrorHandler превращает ошибку из c.Errors в JSON-ответ с кодом таксономии.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// Определяем статус код
		statusCode := errors.HTTPStatusFromError(err)
		if statusCode >= http.StatusInternalServerError {
			log.Error("Request failed", "error", err, "method", c.Request.Method, "path", c.FullPath(), "request_id", c.GetString(ContextRequestID))
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(statusCode, errors.NewAPIError(err))
	}
}
