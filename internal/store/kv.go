package store

import "context"

// 持久化键名布局（对外接口的一部分，不可随意更改）。
const (
	KeyUsers        = "users"        // 用户集合（JSON 数组）
	KeyTasks        = "tasks"        // 任务集合（JSON 数组，全局存储，读取时按 userId 过滤）
	KeyLoggedInUser = "loggedInUser" // 当前会话用户（JSON 对象），未登录时键不存在
)

// KV 是扁平键值存储的抽象（浏览器 localStorage 的本地替身）。
//
// 值始终是整段 UTF-8 JSON 文本：读写都是整值操作，没有部分 I/O。
// 实现不要求跨进程原子性（并发写者以整值 last-write-wins 收场，见设计约定）。
type KV interface {
	// Get 读取键对应的整段值。键不存在时返回 ok=false 且无错误。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set 整值覆盖写入。
	Set(ctx context.Context, key string, value []byte) error
	// Delete 删除键。键不存在时不报错。
	Delete(ctx context.Context, key string) error
}
