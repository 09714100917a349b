package store

import (
	"context"
	"encoding/json"
	"fmt"

	"todovault/internal/model"
)

// Session 是单槽会话存储：同一时刻最多记住一个已登录用户。
//
// 登录成功整份用户记录写入 KeyLoggedInUser，登出删除该键。
// 不做任何过期或续期，生命周期完全由登录/登出驱动。
type Session struct {
	kv KV
}

// NewSession 创建会话存储。
func NewSession(kv KV) *Session {
	return &Session{kv: kv}
}

// Get 返回当前会话用户。槽位为空时 ok=false 且无错误。
func (s *Session) Get(ctx context.Context) (*model.User, bool, error) {
	raw, ok, err := s.kv.Get(ctx, KeyLoggedInUser)
	if err != nil {
		return nil, false, fmt.Errorf("session: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, false, fmt.Errorf("session: parse: %w", err)
	}
	return &user, true, nil
}

// Set 覆盖会话槽。后登录者直接顶掉前一个用户。
func (s *Session) Set(ctx context.Context, user *model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.kv.Set(ctx, KeyLoggedInUser, raw); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// Clear 清空会话槽。槽位本来就空时不报错。
func (s *Session) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyLoggedInUser); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
