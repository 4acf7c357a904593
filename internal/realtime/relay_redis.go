package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"matchchat/pkg/logger"
)

// RedisRelay рассылает конверты через Redis PUBLISH/SUBSCRIBE.
// Каждый инстанс подписан на один общий канал.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	log     logger.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, log logger.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, log: log.With("component", "redis_relay")}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) Run(ctx context.Context, ready func(), deliver func(Envelope)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Дожидаемся подтверждения подписки, иначе ранние события теряются.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("Redis relay subscribed", "channel", r.channel)
	ready()

	// go-redis сам переподписывается после обрыва; повторное подтверждение
	// подписки значит, что сообщения за время обрыва потеряны.
	ch := pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis relay channel closed")
			}
			switch msg := msg.(type) {
			case *redis.Subscription:
				if msg.Kind == "subscribe" {
					r.log.Warn("Redis relay resubscribed", "channel", r.channel)
					ready()
				}
			case *redis.Message:
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn("Skipping malformed envelope", "error", err)
					continue
				}
				deliver(env)
			}
		}
	}
}

// Close ничего не делает: клиент Redis принадлежит вызывающему.
func (r *RedisRelay) Close() error { return nil }
