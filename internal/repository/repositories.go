package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"matchchat/pkg/logger"
)

// HealthChecker проверяет доступность хранилищ для /readyz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Repositories struct {
	Conversation ConversationRepository
	Message      MessageRepository
	Profile      ProfileRepository
	// RateLimit равен nil, если Redis выключен; вызывающий подставляет свою реализацию.
	RateLimit RateLimitRepository
	Health    HealthChecker
}

// NewRepositories собирает PostgreSQL-репозитории; rdb может быть nil.
func NewRepositories(db *pgxpool.Pool, rdb *redis.Client, profileTTL time.Duration, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversation: NewConversationRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Profile:      NewProfileRepository(db, log),
		Health:       &storeHealth{db: db, rdb: rdb},
	}

	if rdb != nil {
		if profileTTL > 0 {
			repos.Profile = NewCachedProfileRepository(repos.Profile, rdb, profileTTL, log)
			log.Info("Profile cache enabled", "ttl", profileTTL)
		}
		repos.RateLimit = NewRateLimitRepository(rdb, log)
	} else {
		log.Warn("Redis disabled, profile cache is off")
	}

	return repos
}

type storeHealth struct {
	db  *pgxpool.Pool
	rdb *redis.Client
}

func (h *storeHealth) Ping(ctx context.Context) error {
	if err := h.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
