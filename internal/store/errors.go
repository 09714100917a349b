package store

import "errors"

// 存储层的三类业务错误，API 层据此映射 HTTP 状态码。
var (
	// ErrDuplicateEmail 注册邮箱已存在。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrInvalidCredentials 邮箱或密码不匹配。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNotFound 记录不存在（任务、用户或重置密码的邮箱）。
	ErrNotFound = errors.New("record not found")
)
