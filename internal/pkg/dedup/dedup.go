package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "todovault:dedup:notify:"

// Deduplicator 用 Redis SetNX 实现通知去重窗口。
//
// tag 标识一类通知（同一任务的逾期提醒共用 "task-<id>"）：窗口期内
// 同 tag 的 IsDuplicate 只有第一次返回 false。rdb 为 nil 时去重关闭，
// 所有通知都放行。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

func (d *Deduplicator) IsDuplicate(ctx context.Context, tag string) (bool, error) {
	if d == nil || d.rdb == nil || tag == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, keyPrefix+tag, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 主动清掉 tag 的去重标记（任务完成后重新逾期时用）。
func (d *Deduplicator) Delete(ctx context.Context, tag string) error {
	if d == nil || d.rdb == nil || tag == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, keyPrefix+tag).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}
