package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程级指标集合，经 /metrics 暴露给 Prometheus。
var (
	// StoreOpsTotal 按操作名统计存储层调用次数。
	StoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todovault",
		Name:      "store_ops_total",
		Help:      "存储层操作次数（按操作名区分）。",
	}, []string{"op"})

	// OverdueFlaggedTotal 统计逾期扫描标记出的任务次数（每轮重复计数）。
	OverdueFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todovault",
		Name:      "overdue_flagged_total",
		Help:      "逾期扫描标记任务的累计次数。",
	})

	// NotificationsSentTotal 统计实际投递的逾期通知。
	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todovault",
		Name:      "notifications_sent_total",
		Help:      "实际发送的逾期通知数。",
	})

	// NotificationsDedupedTotal 统计被去重窗口拦下的通知。
	NotificationsDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todovault",
		Name:      "notifications_deduped_total",
		Help:      "因去重窗口而跳过的通知数。",
	})

	// RateLimitWaitDuration 记录阻塞式限流的等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "todovault",
		Name:      "ratelimit_wait_seconds",
		Help:      "阻塞式限流的等待耗时。",
		Buckets:   prometheus.DefBuckets,
	})

	// LoginRateLimitedTotal 统计被限流拒绝的登录请求。
	LoginRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todovault",
		Name:      "login_rate_limited_total",
		Help:      "被限流拒绝的登录请求数。",
	})

	// WorkerPoolSize 记录通知工作池的并发规模。
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "todovault",
		Name:      "worker_pool_size",
		Help:      "通知工作池的 worker 数。",
	})
)

var initOnce sync.Once

// InitMetrics 设置一次性的静态指标值。重复调用只生效一次。
func InitMetrics(workers int) {
	initOnce.Do(func() {
		WorkerPoolSize.Set(float64(workers))
	})
}
