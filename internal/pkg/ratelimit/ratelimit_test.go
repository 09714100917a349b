package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rate, burst float64) *RateLimiter {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	return NewRedisRateLimiter(rdb, logger, "test:ratelimit:login", rate, burst)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAllowExhaustsBurst(t *testing.T) {
	// 补充速率极低，burst 2：前两次放行，第三次拒绝。
	r := newTestLimiter(t, 0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := r.Allow(ctx)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}

	ok, err := r.Allow(ctx)
	if err != nil {
		t.Fatalf("allow after burst: %v", err)
	}
	if ok {
		t.Fatalf("request beyond burst should be rejected")
	}
}

func TestAllowDisabledLimiter(t *testing.T) {
	// rate<=0 表示限流关闭，一律放行。
	r := newTestLimiter(t, 0, 0)
	ok, err := r.Allow(context.Background())
	if err != nil || !ok {
		t.Fatalf("disabled limiter: ok=%v err=%v", ok, err)
	}

	var nilLimiter *RateLimiter
	ok, err = nilLimiter.Allow(context.Background())
	if err != nil || !ok {
		t.Fatalf("nil limiter: ok=%v err=%v", ok, err)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	r := newTestLimiter(t, 0.001, 1)
	ctx := context.Background()

	// 先耗尽 burst。
	if err := r.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// 令牌耗尽后补充极慢，等待必然超时。
	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := r.Acquire(timeoutCtx); err != ErrRateLimitTimeout {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}
