package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisKV(t *testing.T) *RedisKV {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	kv, err := NewRedisKV(rdb, "test:")
	if err != nil {
		t.Fatalf("NewRedisKV: %v", err)
	}
	return kv
}

func TestRedisKVRoundTrip(t *testing.T) {
	kv := newTestRedisKV(t)
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "users"); ok || err != nil {
		t.Fatalf("缺失键: ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, "users", []byte(`[{"uid":"u1"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, ok, err := kv.Get(ctx, "users")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `[{"uid":"u1"}]` {
		t.Fatalf("值不符: %s", raw)
	}

	if err := kv.Delete(ctx, "users"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "users"); ok {
		t.Fatalf("删除后键仍存在")
	}
	// 删除不存在的键不报错。
	if err := kv.Delete(ctx, "users"); err != nil {
		t.Fatalf("重复 Delete: %v", err)
	}
}

func TestNewRedisKVNilClient(t *testing.T) {
	if _, err := NewRedisKV(nil, ""); err == nil {
		t.Fatalf("nil client 应报错")
	}
}
