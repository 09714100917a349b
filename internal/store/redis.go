package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV 把每个键存成一个 Redis string，作为可选的远端后端。
//
// 仍然是整值读写：Redis 只当扁平键值存储用，不做任何结构化查询。
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisKV 基于已有的 redis.Client 创建后端。
func NewRedisKV(rdb *redis.Client, prefix string) (*RedisKV, error) {
	if rdb == nil {
		return nil, errors.New("redis kv: client is nil")
	}
	if prefix == "" {
		prefix = "todovault:"
	}
	return &RedisKV{rdb: rdb, prefix: prefix}, nil
}

// Get 实现 KV。
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis kv: get %s: %w", key, err)
	}
	return raw, true, nil
}

// Set 实现 KV。值不设置过期时间。
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis kv: set %s: %w", key, err)
	}
	return nil
}

// Delete 实现 KV。
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis kv: del %s: %w", key, err)
	}
	return nil
}
