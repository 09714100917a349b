package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"todovault/internal/model"
	"todovault/internal/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Store 在扁平键值存储之上模拟数据库语义。
//
// 它独占 users / tasks 两个集合：每个操作都是"读整个集合 -> 内存修改 ->
// 整集合回写"，由进程级互斥锁串行化，避免同进程内的丢失更新。
// 跨进程并发写仍是整值 last-write-wins，这是接受的限制而非保证。
//
// 唯一键约束（邮箱）、外键校验（任务所属用户）和每用户过滤都在这一层实现，
// 底层 KV 对记录结构一无所知。
type Store struct {
	kv      KV
	session *Session
	logger  *slog.Logger
	mu      sync.Mutex

	// 测试钩子：时间源与 ID 生成器可替换。
	now   func() time.Time
	newID func() string
}

// New 创建 Store。
func New(kv KV, logger *slog.Logger) *Store {
	return &Store{
		kv:      kv,
		session: NewSession(kv),
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Session 返回单槽会话存储。
func (s *Store) Session() *Session {
	return s.session
}

// NewUser 是注册请求的入参。Password 为明文，入库前做 bcrypt 哈希。
type NewUser struct {
	Email    string
	Username string
	Password string
	Gender   model.Gender
}

// NewTask 是创建任务的入参。
type NewTask struct {
	UserID  string
	Title   string
	DueDate string
	DueTime string
}

// TaskPatch 是更新任务的补丁：nil 字段保持原值。
type TaskPatch struct {
	Title     *string
	DueDate   *string
	DueTime   *string
	Completed *bool
}

// CreateUser 创建新用户。
//
// 邮箱已存在（区分大小写的精确匹配）时返回 ErrDuplicateEmail，
// 且不产生任何写入。成功时返回带哈希密码的完整记录。
func (s *Store) CreateUser(ctx context.Context, data NewUser) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("create_user").Inc()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email == data.Email {
			return nil, fmt.Errorf("create user %s: %w", data.Email, ErrDuplicateEmail)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(data.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		UID:       s.newID(),
		Email:     data.Email,
		Username:  data.Username,
		Password:  string(hash),
		Gender:    data.Gender,
		CreatedAt: s.now(),
	}
	users = append(users, user)
	if err := s.saveUsers(ctx, users); err != nil {
		return nil, err
	}

	s.logger.Info("user created", slog.String("uid", user.UID), slog.String("email", user.Email))
	return &user, nil
}

// Authenticate 校验邮箱与密码，成功后把该用户写入会话槽并返回记录。
//
// 邮箱不存在或密码不匹配统一返回 ErrInvalidCredentials，不区分两种情况。
func (s *Store) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("authenticate").Inc()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email != email {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(users[i].Password), []byte(password)); err != nil {
			return nil, ErrInvalidCredentials
		}
		user := users[i]
		if err := s.session.Set(ctx, &user); err != nil {
			return nil, err
		}
		s.logger.Info("user logged in", slog.String("uid", user.UID), slog.String("email", user.Email))
		return &user, nil
	}
	return nil, ErrInvalidCredentials
}

// SendPasswordReset 校验重置邮箱并返回对应用户，实际投递由调用方负责。
//
// 邮箱不存在时返回 ErrNotFound。
func (s *Store) SendPasswordReset(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("password_reset").Inc()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email == email {
			user := users[i]
			return &user, nil
		}
	}
	return nil, fmt.Errorf("password reset for %s: %w", email, ErrNotFound)
}

// Logout 清空会话槽。重复调用是无害的。
func (s *Store) Logout(ctx context.Context) error {
	metrics.StoreOpsTotal.WithLabelValues("logout").Inc()
	return s.session.Clear(ctx)
}

// UserByEmail 按邮箱查找用户（区分大小写的精确匹配）。
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email == email {
			user := users[i]
			return &user, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

// UserByID 按 UID 查找用户。
func (s *Store) UserByID(ctx context.Context, uid string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].UID == uid {
			user := users[i]
			return &user, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
}

// TasksByUser 返回指定用户的全部任务，保持插入顺序，不分页。
func (s *Store) TasksByUser(ctx context.Context, userID string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("list_tasks").Inc()

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Task{}
	for i := range tasks {
		if tasks[i].UserID == userID {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

// AllTasks 返回全局任务集合（逾期扫描用）。
func (s *Store) AllTasks(ctx context.Context) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTasks(ctx)
}

// TaskByID 按 ID 查找任务。
func (s *Store) TaskByID(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			task := tasks[i]
			return &task, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// AddTask 创建任务并追加到全局集合。
//
// UserID 必须指向已存在的用户，否则返回 ErrNotFound（写入时校验外键）。
func (s *Store) AddTask(ctx context.Context, data NewTask) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("add_task").Inc()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	owned := false
	for i := range users {
		if users[i].UID == data.UserID {
			owned = true
			break
		}
	}
	if !owned {
		return nil, fmt.Errorf("add task: owner %s: %w", data.UserID, ErrNotFound)
	}

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := model.Task{
		ID:        s.newID(),
		UserID:    data.UserID,
		Title:     data.Title,
		DueDate:   data.DueDate,
		DueTime:   data.DueTime,
		Completed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tasks = append(tasks, task)
	if err := s.saveTasks(ctx, tasks); err != nil {
		return nil, err
	}

	s.logger.Info("task added", slog.String("task_id", task.ID), slog.String("user_id", task.UserID))
	return &task, nil
}

// UpdateTask 把补丁合并到已有任务上并刷新 updatedAt。
//
// 任务不存在时返回 ErrNotFound。相同补丁重复应用得到相同结果
// （updatedAt 除外）。
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("update_task").Inc()

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		if patch.Title != nil {
			tasks[i].Title = *patch.Title
		}
		if patch.DueDate != nil {
			tasks[i].DueDate = *patch.DueDate
		}
		if patch.DueTime != nil {
			tasks[i].DueTime = *patch.DueTime
		}
		if patch.Completed != nil {
			tasks[i].Completed = *patch.Completed
		}
		tasks[i].UpdatedAt = s.now()

		if err := s.saveTasks(ctx, tasks); err != nil {
			return nil, err
		}
		task := tasks[i]
		return &task, nil
	}
	return nil, fmt.Errorf("update task %s: %w", id, ErrNotFound)
}

// DeleteTask 删除任务。ID 不存在时也算成功（删除是幂等的）。
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("delete_task").Inc()

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return err
	}
	kept := tasks[:0]
	removed := false
	for i := range tasks {
		if tasks[i].ID == id {
			removed = true
			continue
		}
		kept = append(kept, tasks[i])
	}
	if !removed {
		return nil
	}
	if err := s.saveTasks(ctx, kept); err != nil {
		return err
	}
	s.logger.Info("task deleted", slog.String("task_id", id))
	return nil
}

// DeleteAccount 删除用户及其全部任务，并在会话槽指向该用户时一并清空。
func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOpsTotal.WithLabelValues("delete_account").Inc()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	keptUsers := users[:0]
	found := false
	for i := range users {
		if users[i].UID == uid {
			found = true
			continue
		}
		keptUsers = append(keptUsers, users[i])
	}
	if !found {
		return fmt.Errorf("delete account %s: %w", uid, ErrNotFound)
	}
	if err := s.saveUsers(ctx, keptUsers); err != nil {
		return err
	}

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return err
	}
	keptTasks := tasks[:0]
	for i := range tasks {
		if tasks[i].UserID == uid {
			continue
		}
		keptTasks = append(keptTasks, tasks[i])
	}
	if err := s.saveTasks(ctx, keptTasks); err != nil {
		return err
	}

	if current, ok, err := s.session.Get(ctx); err == nil && ok && current.UID == uid {
		_ = s.session.Clear(ctx)
	}

	s.logger.Info("account deleted", slog.String("uid", uid))
	return nil
}

func (s *Store) loadUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.loadCollection(ctx, KeyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) saveUsers(ctx context.Context, users []model.User) error {
	return s.saveCollection(ctx, KeyUsers, users)
}

func (s *Store) loadTasks(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := s.loadCollection(ctx, KeyTasks, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) saveTasks(ctx context.Context, tasks []model.Task) error {
	return s.saveCollection(ctx, KeyTasks, tasks)
}

// loadCollection 读取整个集合。键不存在等价于空集合。
func (s *Store) loadCollection(ctx context.Context, key string, dst interface{}) error {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

// saveCollection 整集合回写。
func (s *Store) saveCollection(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
