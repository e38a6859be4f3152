package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"inventory-saga/internal/pkg/redis"
)

const processedKeyPrefix = "inventory:compensation:processed:"

// RedisProcessedStore 用 Redis 记录已处理的补偿消息 ID，过期后自动清理
type RedisProcessedStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisProcessedStore(c *redis.Client, ttl time.Duration) *RedisProcessedStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProcessedStore{client: c.GetClient(), ttl: ttl}
}

func (s *RedisProcessedStore) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKeyPrefix+messageID).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, messageID string) error {
	return errors.Wrap(s.client.Set(ctx, processedKeyPrefix+messageID, time.Now().Unix(), s.ttl).Err(), "redis set")
}
