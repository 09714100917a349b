package notify

import (
	"context"

	"todovault/internal/model"
)

// Notifier 定义逾期提醒的投递接口。
type Notifier interface {
	// NotifyOverdue 发送逾期提醒。
	//
	// 参数:
	//   ctx: 上下文
	//   task: 逾期任务
	//   toEmail: 接收邮箱（任务所属用户的注册邮箱）
	NotifyOverdue(ctx context.Context, task *model.Task, toEmail string) error
}
