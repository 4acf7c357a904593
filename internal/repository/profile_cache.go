package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

const profileCacheKeyPrefix = "profile:%s"

type cachedProfileRepository struct {
	next ProfileRepository
	rdb  *redis.Client
	ttl  time.Duration
	log  logger.Logger
}

// NewCachedProfileRepository кеширует снимки профилей в Redis на ttl.
// Ошибки Redis не роняют запрос: читаем из источника напрямую.
func NewCachedProfileRepository(next ProfileRepository, rdb *redis.Client, ttl time.Duration, log logger.Logger) ProfileRepository {
	return &cachedProfileRepository{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (r *cachedProfileRepository) key(id string) string {
	return fmt.Sprintf(profileCacheKeyPrefix, id)
}

func (r *cachedProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	result := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	missing := ids
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn("Profile cache read failed", "error", err)
	} else {
		missing = make([]string, 0, len(ids))
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var p domain.Profile
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				r.log.Warn("Failed to unmarshal cached profile", "error", err, "profile_id", ids[i])
				missing = append(missing, ids[i])
				continue
			}
			result[ids[i]] = p
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := r.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	for id, p := range fresh {
		result[id] = p
		data, err := json.Marshal(p)
		if err != nil {
			r.log.Warn("Failed to marshal profile", "error", err, "profile_id", id)
			continue
		}
		pipe.Set(ctx, r.key(id), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("Profile cache write failed", "error", err)
	}

	return result, nil
}
