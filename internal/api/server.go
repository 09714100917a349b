package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"todovault/internal/api/auth"
	"todovault/internal/api/middleware"
	"todovault/internal/api/scheduler"
	"todovault/internal/config"
	"todovault/internal/model"
	"todovault/internal/pkg/dedup"
	"todovault/internal/pkg/metrics"
	"todovault/internal/pkg/notify"
	"todovault/internal/pkg/ratelimit"
	"todovault/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有记录存储、可选的 Redis 客户端、逾期扫描器以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	rdb     *redis.Client
	router  *gin.Engine
	watcher *scheduler.Watcher
	auth    *auth.Handler
	deduper Deduper
	tasks   TaskStore
	users   AccountStore
}

type TaskStore interface {
	TasksByUser(ctx context.Context, userID string) ([]model.Task, error)
	TaskByID(ctx context.Context, id string) (*model.Task, error)
	AddTask(ctx context.Context, data store.NewTask) (*model.Task, error)
	UpdateTask(ctx context.Context, id string, patch store.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type AccountStore interface {
	UserByID(ctx context.Context, uid string) (*model.User, error)
	DeleteAccount(ctx context.Context, uid string) error
}

type Deduper interface {
	Delete(ctx context.Context, tag string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 按配置构建键值存储后端（file / memory / redis）
// 2. 按需连接 Redis（去重、限流、可选存储后端）
// 3. 初始化逾期扫描器与 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	kv, err := buildKV(cfg, rdb)
	if err != nil {
		return nil, err
	}
	st := store.New(kv, logger)

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)
	deduper := dedup.NewDeduplicator(rdb, cfg.App.DedupWindow)

	watcher := scheduler.NewWatcher(
		st,
		logger,
		emailNotifier,
		deduper,
		cfg.App.CheckInterval,
		cfg.App.WorkerPoolSize,
		cfg.App.QueueCapacity,
	)

	var limiter *ratelimit.RateLimiter
	if rdb != nil {
		limiter = ratelimit.NewRedisRateLimiter(rdb, logger, "todovault:ratelimit:login", cfg.App.RateLimit, cfg.App.RateBurst)
	}

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		rdb:     rdb,
		router:  r,
		watcher: watcher,
		auth:    auth.NewHandler(st, cfg.Security.JWTSecret, cfg.App.DemoEmail, emailNotifier, logger),
		deduper: deduper,
		tasks:   st,
		users:   st,
	}
	s.registerRoutes(limiter)
	return s, nil
}

// buildKV 按配置选择存储后端。
func buildKV(cfg *config.Config, rdb *redis.Client) (store.KV, error) {
	switch cfg.Store.Backend {
	case "", "file":
		return store.NewFileKV(cfg.Store.Path)
	case "memory":
		return store.NewMemoryKV(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("store backend redis requires redis.addr")
		}
		return store.NewRedisKV(rdb, cfg.Store.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Run 启动逾期扫描器与 HTTP 服务器。
func (s *Server) Run() error {
	s.StartWatcher(context.Background())

	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartWatcher 在后台启动逾期扫描循环。
func (s *Server) StartWatcher(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in overdue watcher", slog.Any("panic", r))
			}
		}()
		s.watcher.Run(ctx)
	}()
}

// Close 关闭 Redis 连接。
func (s *Server) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes(limiter *ratelimit.RateLimiter) {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/register", s.auth.Register)

	login := s.router.Group("/")
	login.Use(middleware.LoginRateLimit(limiter, s.logger))
	login.POST("/login", s.auth.Login)
	login.POST("/login/demo", s.auth.DemoLogin)
	login.POST("/reset", s.auth.Reset)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/logout", s.auth.Logout)
	authed.GET("/me", s.handleMe)
	authed.POST("/me/delete", s.handleDeleteAccount)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks", s.handleListTasks)
	authed.PATCH("/tasks/:id", s.handleUpdateTask)
	authed.POST("/tasks/:id/toggle", s.handleToggleTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title   string `json:"title" binding:"required"`
	DueDate string `json:"dueDate" binding:"required,datetime=2006-01-02"`
	DueTime string `json:"dueTime" binding:"required,datetime=15:04"`
}

type updateTaskRequest struct {
	Title     *string `json:"title"`
	DueDate   *string `json:"dueDate"`
	DueTime   *string `json:"dueTime"`
	Completed *bool   `json:"completed"`
}

// taskResponse 在任务记录上追加派生的 overdue 字段。
type taskResponse struct {
	model.Task
	Overdue bool `json:"overdue"`
}

// handleCreateTask 处理创建任务的请求。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := getUserID(c)

	task, err := s.tasks.AddTask(c.Request.Context(), store.NewTask{
		UserID:  userID,
		Title:   strings.TrimSpace(req.Title),
		DueDate: req.DueDate,
		DueTime: req.DueTime,
	})
	if errors.Is(err, store.ErrNotFound) {
		// Token 指向的用户已被删除。
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	c.JSON(http.StatusCreated, taskResponse{Task: *task, Overdue: task.Overdue(time.Now())})
}

// handleListTasks 返回当前用户的任务列表。
//
// GET /tasks?search=&sort=dueDate|title
func (s *Server) handleListTasks(c *gin.Context) {
	userID := getUserID(c)

	tasks, err := s.tasks.TasksByUser(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		needle := strings.ToLower(search)
		filtered := tasks[:0]
		for i := range tasks {
			if strings.Contains(strings.ToLower(tasks[i].Title), needle) {
				filtered = append(filtered, tasks[i])
			}
		}
		tasks = filtered
	}

	switch c.Query("sort") {
	case "":
		// 保持存储顺序。
	case "dueDate":
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].DueDate+tasks[i].DueTime < tasks[j].DueDate+tasks[j].DueTime
		})
	case "title":
		sort.SliceStable(tasks, func(i, j int) bool {
			return strings.ToLower(tasks[i].Title) < strings.ToLower(tasks[j].Title)
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort"})
		return
	}

	now := time.Now()
	out := make([]taskResponse, 0, len(tasks)) // 保证空列表序列化为 [] 而不是 null
	for i := range tasks {
		out = append(out, taskResponse{Task: tasks[i], Overdue: tasks[i].Overdue(now)})
	}
	c.JSON(http.StatusOK, out)
}

// handleUpdateTask 更新任务字段（部分更新）。
//
// PATCH /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	task, ok := s.ownedTask(c)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := store.TaskPatch{Completed: req.Completed}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		patch.Title = &title
	}
	if req.DueDate != nil {
		if _, err := time.Parse(model.DueDateLayout, *req.DueDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dueDate"})
			return
		}
		patch.DueDate = req.DueDate
	}
	if req.DueTime != nil {
		if _, err := time.Parse(model.DueTimeLayout, *req.DueTime); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dueTime"})
			return
		}
		patch.DueTime = req.DueTime
	}
	if patch.Title == nil && patch.DueDate == nil && patch.DueTime == nil && patch.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	updated, err := s.tasks.UpdateTask(c.Request.Context(), task.ID, patch)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("update task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	// 任务被改成已完成后清掉去重标记，再次逾期时能重新提醒。
	if patch.Completed != nil && *patch.Completed {
		s.clearNotifyTag(c.Request.Context(), updated.ID)
	}

	c.JSON(http.StatusOK, taskResponse{Task: *updated, Overdue: updated.Overdue(time.Now())})
}

// handleToggleTask 翻转任务的完成状态。
//
// POST /tasks/:id/toggle
func (s *Server) handleToggleTask(c *gin.Context) {
	task, ok := s.ownedTask(c)
	if !ok {
		return
	}

	completed := !task.Completed
	updated, err := s.tasks.UpdateTask(c.Request.Context(), task.ID, store.TaskPatch{Completed: &completed})
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("toggle task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle failed"})
		return
	}

	if completed {
		s.clearNotifyTag(c.Request.Context(), updated.ID)
	}

	c.JSON(http.StatusOK, taskResponse{Task: *updated, Overdue: updated.Overdue(time.Now())})
}

// handleDeleteTask 删除任务。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	task, ok := s.ownedTask(c)
	if !ok {
		return
	}

	if err := s.tasks.DeleteTask(c.Request.Context(), task.ID); err != nil {
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed"})
		return
	}
	s.clearNotifyTag(c.Request.Context(), task.ID)

	c.JSON(http.StatusOK, gin.H{"deleted": task.ID})
}

// handleMe 返回当前用户信息。
func (s *Server) handleMe(c *gin.Context) {
	user, err := s.users.UserByID(c.Request.Context(), getUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}
	c.JSON(http.StatusOK, user.Sanitized())
}

// handleDeleteAccount 注销账户并级联删除其任务。
func (s *Server) handleDeleteAccount(c *gin.Context) {
	userID := getUserID(c)

	err := s.users.DeleteAccount(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		s.logger.Error("delete account failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ownedTask 按路径参数加载任务并校验归属。
//
// 任务不存在或属于其他用户时统一返回 404，不区分两种情况。
func (s *Server) ownedTask(c *gin.Context) (*model.Task, bool) {
	task, err := s.tasks.TaskByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("load task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
		return nil, false
	}
	if task.UserID != getUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	return task, true
}

func (s *Server) clearNotifyTag(ctx context.Context, taskID string) {
	if err := s.deduper.Delete(ctx, scheduler.NotifyTag(taskID)); err != nil {
		s.logger.Warn("dedup delete failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}

func getUserID(c *gin.Context) string {
	return c.GetString("userID")
}
