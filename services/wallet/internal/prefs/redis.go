package prefs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "apiw:prefs:"

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(accountID uuid.UUID) string {
	return s.prefix + accountID.String()
}

func (s *RedisStore) SecurityNoticeDismissed(ctx context.Context, accountID uuid.UUID) (bool, error) {
	val, err := s.client.HGet(ctx, s.key(accountID), SecurityNoticeDismissed).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (s *RedisStore) SetSecurityNoticeDismissed(ctx context.Context, accountID uuid.UUID, dismissed bool) error {
	if !dismissed {
		return s.client.HDel(ctx, s.key(accountID), SecurityNoticeDismissed).Err()
	}
	return s.client.HSet(ctx, s.key(accountID), SecurityNoticeDismissed, "1").Err()
}
