package api

import (
	"context"
	"errors"
	"time"

	"todovault/internal/model"
	"todovault/internal/store"
)

// SeedDemoData 初始化演示账号与示例任务。
//
// 未配置 demo_email 时什么都不做。重复执行是幂等的：账号和示例任务
// 已存在时不再创建。
func (s *Server) SeedDemoData(ctx context.Context) error {
	demoEmail := s.cfg.App.DemoEmail
	if demoEmail == "" {
		return nil
	}

	user, err := s.store.UserByEmail(ctx, demoEmail)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.store.CreateUser(ctx, store.NewUser{
			Email:    demoEmail,
			Username: "demo",
			Password: "demo-demo",
		})
	}
	if err != nil {
		return err
	}

	tasks, err := s.store.TasksByUser(ctx, user.UID)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return nil
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Format(model.DueDateLayout)
	if _, err := s.store.AddTask(ctx, store.NewTask{
		UserID:  user.UID,
		Title:   "Buy groceries",
		DueDate: tomorrow,
		DueTime: "09:00",
	}); err != nil {
		return err
	}

	s.logger.Info("demo data seeded")
	return nil
}
