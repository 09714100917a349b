package model

import (
	"fmt"
	"time"
)

// 任务到期时间的持久化格式。
// 日期与时刻拆成两个字段存储，沿用浏览器端 date/time 输入框的取值格式。
const (
	DueDateLayout = "2006-01-02"
	DueTimeLayout = "15:04"
)

// Task 表示一条待办任务。
//
// 任务属于创建它的用户（UserID 指向 User.UID）。
// 逾期状态是派生值，不落盘：未完成且到期时刻早于当前时间即为逾期。
type Task struct {
	ID        string    `json:"id"`        // 任务唯一标识（UUID）
	UserID    string    `json:"userId"`    // 所属用户 UID
	Title     string    `json:"title"`     // 任务标题
	DueDate   string    `json:"dueDate"`   // 到期日期，如 "2020-01-01"
	DueTime   string    `json:"dueTime"`   // 到期时刻，如 "09:00"
	Completed bool      `json:"completed"` // 是否已完成
	CreatedAt time.Time `json:"createdAt"` // 创建时间
	UpdatedAt time.Time `json:"updatedAt"` // 最近一次修改时间
}

// DueAt 解析任务的到期时刻（本地时区）。
func (t *Task) DueAt() (time.Time, error) {
	due, err := time.ParseInLocation(DueDateLayout+" "+DueTimeLayout, t.DueDate+" "+t.DueTime, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due time of task %s: %w", t.ID, err)
	}
	return due, nil
}

// Overdue 判断任务在 now 时刻是否逾期。
//
// 已完成的任务永不逾期；到期时刻解析失败的任务视为未逾期。
func (t *Task) Overdue(now time.Time) bool {
	if t.Completed {
		return false
	}
	due, err := t.DueAt()
	if err != nil {
		return false
	}
	return due.Before(now)
}
