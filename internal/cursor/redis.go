package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cursor keys.
const DefaultRedisPrefix = "casesync:cursor:"

// RedisStore keeps cursors as plain string keys without expiry.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps a client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor: redis get %s: %w", name, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, name, value string) error {
	if err := r.client.Set(ctx, r.prefix+name, value, 0).Err(); err != nil {
		return fmt.Errorf("cursor: redis set %s: %w", name, err)
	}
	return nil
}
