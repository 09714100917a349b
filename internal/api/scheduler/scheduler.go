package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"todovault/internal/model"
	"todovault/internal/pkg/dedup"
	"todovault/internal/pkg/metrics"
	"todovault/internal/pkg/notify"
	"todovault/internal/pkg/queue"
	"todovault/internal/store"
)

// Watcher 周期性扫描全量任务，把逾期任务标记出来并投递提醒。
//
// 每一轮对每个逾期任务都会记一条 warn 日志（页面 toast 的服务端等价物，
// 任务保持逾期就一直重复）；邮件提醒则经去重窗口收敛，窗口期内同一任务
// 只发一封。邮件投递丢进 worker 池异步执行，扫描循环不等 SMTP。
type Watcher struct {
	store    *store.Store
	logger   *slog.Logger
	notifier notify.Notifier
	deduper  *dedup.Deduplicator
	interval time.Duration
	jobs     *queue.Queue
}

// NewWatcher 创建逾期扫描器。
//
// 参数:
//
//	st: 记录存储
//	logger: 日志记录器
//	notifier: 提醒投递（nil 表示只记日志不发邮件）
//	deduper: 去重器（nil 表示每轮都发）
//	interval: 扫描间隔（<=0 时取 60s）
//	workers: 投递 worker 数
//	capacity: 投递队列容量
func NewWatcher(st *store.Store, logger *slog.Logger, notifier notify.Notifier, deduper *dedup.Deduplicator, interval time.Duration, workers, capacity int) *Watcher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Watcher{
		store:    st,
		logger:   logger,
		notifier: notifier,
		deduper:  deduper,
		interval: interval,
		jobs:     queue.NewQueue(logger, workers, capacity),
	}
}

// Run 启动扫描循环，立即执行第一轮，然后按间隔重复，直到 ctx 取消。
func (w *Watcher) Run(ctx context.Context) {
	w.jobs.Start(ctx)
	defer w.jobs.ShutdownWithTimeout(10 * time.Second)

	w.logger.Info("overdue watcher started", slog.String("interval", w.interval.String()))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.checkOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("overdue watcher stopped")
			return
		case <-ticker.C:
			w.checkOnce(ctx)
		}
	}
}

// CheckOnce 执行一轮扫描并返回标记出的逾期任务数（测试与手动触发用）。
func (w *Watcher) CheckOnce(ctx context.Context) int {
	return w.checkOnce(ctx)
}

func (w *Watcher) checkOnce(ctx context.Context) int {
	tasks, err := w.store.AllTasks(ctx)
	if err != nil {
		w.logger.Error("load tasks failed", slog.String("error", err.Error()))
		return 0
	}

	now := time.Now()
	flagged := 0
	for i := range tasks {
		task := tasks[i]
		if !task.Overdue(now) {
			continue
		}
		flagged++
		metrics.OverdueFlaggedTotal.Inc()

		// 每轮重复提示：任务不完成就一直响。
		w.logger.Warn("task overdue",
			slog.String("task_id", task.ID),
			slog.String("user_id", task.UserID),
			slog.String("title", task.Title),
			slog.String("due", task.DueDate+" "+task.DueTime))

		w.dispatchNotification(ctx, task)
	}

	if flagged > 0 {
		w.logger.Info("overdue check completed", slog.Int("flagged", flagged), slog.Int("total", len(tasks)))
	}
	return flagged
}

// dispatchNotification 把单个任务的邮件提醒丢进 worker 池。
func (w *Watcher) dispatchNotification(ctx context.Context, task model.Task) {
	if w.notifier == nil {
		return
	}

	dup, err := w.deduper.IsDuplicate(ctx, NotifyTag(task.ID))
	if err != nil {
		w.logger.Warn("dedup check failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	} else if dup {
		metrics.NotificationsDedupedTotal.Inc()
		return
	}

	enqueued := w.jobs.Enqueue(func(jobCtx context.Context) error {
		user, err := w.store.UserByID(jobCtx, task.UserID)
		if err != nil {
			return fmt.Errorf("lookup owner of task %s: %w", task.ID, err)
		}
		if err := w.notifier.NotifyOverdue(jobCtx, &task, user.Email); err != nil {
			return err
		}
		metrics.NotificationsSentTotal.Inc()
		return nil
	})
	if !enqueued {
		// 投递失败就让去重标记失效，下一轮重试。
		_ = w.deduper.Delete(ctx, NotifyTag(task.ID))
	}
}

// QueueStats 返回投递队列的统计快照。
func (w *Watcher) QueueStats() queue.QueueStats {
	return w.jobs.Stats()
}

// NotifyTag 返回任务逾期提醒的去重标签。
func NotifyTag(taskID string) string {
	return "task-" + taskID
}
