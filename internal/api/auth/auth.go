package auth

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"todovault/internal/model"
	"todovault/internal/pkg/notify"
	"todovault/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Handler 提供注册、登录与密码重置接口。
type Handler struct {
	store     *store.Store
	jwtSecret []byte
	mailer    *notify.EmailNotifier
	demoEmail string
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(s *store.Store, jwtSecret string, demoEmail string, mailer *notify.EmailNotifier, logger *slog.Logger) *Handler {
	return &Handler{
		store:     s,
		jwtSecret: []byte(jwtSecret),
		mailer:    mailer,
		demoEmail: demoEmail,
		logger:    logger,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Gender   string `json:"gender" binding:"omitempty,oneof=male female"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Register 创建新用户。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), store.NewUser{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Gender:   model.Gender(req.Gender),
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user.Sanitized()})
}

// Login 校验凭证，写入会话槽并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Error("login failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.issueToken(user.UID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{Token: token, User: user.Sanitized()})
}

// DemoLogin 以演示账号登录，账号不存在时自动创建。
func (h *Handler) DemoLogin(c *gin.Context) {
	if h.demoEmail == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "demo login disabled"})
		return
	}
	ctx := c.Request.Context()

	user, err := h.store.UserByEmail(ctx, h.demoEmail)
	if errors.Is(err, store.ErrNotFound) {
		user, err = h.store.CreateUser(ctx, store.NewUser{
			Email:    h.demoEmail,
			Username: "demo",
			Password: randomString(12),
		})
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Error("demo login failed", slog.String("email", h.demoEmail), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "demo login failed"})
		return
	}

	// 演示账号不走密码校验，直接占用会话槽。
	if err := h.store.Session().Set(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "demo login failed"})
		return
	}

	token, err := h.issueToken(user.UID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	if h.logger != nil {
		h.logger.Info("demo user logged in", slog.String("email", h.demoEmail))
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, User: user.Sanitized()})
}

// Reset 受理密码重置请求。
func (h *Handler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.SendPasswordReset(c.Request.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password reset failed"})
		return
	}

	if h.mailer != nil {
		if err := h.mailer.SendPasswordReset(user.Email); err != nil && h.logger != nil {
			h.logger.Warn("send reset email failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset sent"})
}

// Logout 清空会话槽。
func (h *Handler) Logout(c *gin.Context) {
	if err := h.store.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) issueToken(uid string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "demo"
	}
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
