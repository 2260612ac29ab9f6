package baseline

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
)

// RedisBackend stores bundles as redis strings. Suited to deployments
// where the sheet service is replicated and bundles must be visible
// across nodes; not the durable system of record.
type RedisBackend struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisBackend(rdb *goredis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "archsheet:baseline:"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (r *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get baseline: %w", err)
	}
	return raw, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
