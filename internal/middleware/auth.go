package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"matchchat/internal/config"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

// ContextUserID - ключ gin.Context с идентификатором пользователя из токена.
const ContextUserID = "user_id"

// Claims - токен выпускает сервис идентификации, нам нужен только user_id.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	jwtSecret []byte
	issuer    string
	log       logger.Logger
}

func NewAuthMiddleware(cfg config.JWTConfig, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		log:       log,
	}
}

// RequireAuth требует валидный JWT. Токен берется из заголовка Authorization
// или из параметра access_token (браузерный WebSocket не умеет заголовки).
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			m.log.Debug("Missing access token", "path", c.FullPath())
			_ = c.Error(apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := m.ParseToken(tokenString)
		if err != nil {
			m.log.Warn("Token validation failed", "error", err.Error())
			_ = c.Error(apperrors.ErrInvalidToken)
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// ParseToken парсит и валидирует JWT токен
func (m *AuthMiddleware) ParseToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id")
	}
	return claims, nil
}

// UserID возвращает пользователя, установленного RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// IssueToken подписывает токен тем же секретом. Нужен для локальной
// разработки и тестов: в бою токены выпускает сервис идентификации.
func IssueToken(cfg config.JWTConfig, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
