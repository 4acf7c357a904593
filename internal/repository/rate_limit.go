package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"matchchat/pkg/logger"
)

type RateLimitRepository interface {
	// Increment увеличивает счетчик окна и возвращает новое значение.
	// Окно начинается с первого инкремента.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Decrement возвращает одно действие в текущее окно. Истекшее окно не трогается.
	Decrement(ctx context.Context, key string) error
}

// decrementScript не создает ключ заново: DECR по истекшему ключу дал бы -1 без TTL.
var decrementScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]))
if count and count > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: TTL ставится только новому ключу, окно не продлевается.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "error", err, "key", key)
		return 0, err
	}
	return incr.Val(), nil
}

func (r *rateLimitRepository) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, r.redis, []string{key}).Err(); err != nil {
		r.log.Error("Failed to decrement rate limit", "error", err, "key", key)
		return err
	}
	return nil
}
