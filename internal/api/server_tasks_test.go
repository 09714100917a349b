package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"todovault/internal/config"
	"todovault/internal/pkg/metrics"
	"todovault/internal/store"

	"github.com/gin-gonic/gin"
)

type mockDeduper struct {
	deleteCalls []string
}

func (m *mockDeduper) Delete(ctx context.Context, tag string) error {
	m.deleteCalls = append(m.deleteCalls, tag)
	return nil
}

// newTestServer 用内存存储搭一个只挂任务路由的测试服务器。
// userID 直接塞进上下文，跳过 JWT 中间件。
func newTestServer(t *testing.T) (*Server, *store.Store, *mockDeduper, func(userID string) *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics(1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.New(store.NewMemoryKV(), logger)
	deduper := &mockDeduper{}

	s := &Server{
		cfg:     &config.Config{},
		logger:  logger,
		store:   st,
		deduper: deduper,
		tasks:   st,
		users:   st,
	}

	router := func(userID string) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set("userID", userID)
			c.Next()
		})
		r.POST("/tasks", s.handleCreateTask)
		r.GET("/tasks", s.handleListTasks)
		r.PATCH("/tasks/:id", s.handleUpdateTask)
		r.POST("/tasks/:id/toggle", s.handleToggleTask)
		r.DELETE("/tasks/:id", s.handleDeleteTask)
		r.GET("/me", s.handleMe)
		r.POST("/me/delete", s.handleDeleteAccount)
		return r
	}
	return s, st, deduper, router
}

func mustCreateUser(t *testing.T, st *store.Store, email string) string {
	t.Helper()
	user, err := st.CreateUser(context.Background(), store.NewUser{Email: email, Username: "u", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.UID
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTask_Normal(t *testing.T) {
	_, st, _, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{
		"title":   "Pay rent",
		"dueDate": "2020-01-01",
		"dueTime": "09:00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.ID == "" || resp.UserID != uid || resp.Completed {
		t.Fatalf("响应不符: %+v", resp)
	}
	// 2020 年的任务必然已逾期。
	if !resp.Overdue {
		t.Fatalf("expected overdue=true")
	}
}

func TestCreateTask_InvalidDueDate(t *testing.T) {
	_, st, _, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{
		"title":   "Pay rent",
		"dueDate": "01/01/2020",
		"dueTime": "09:00",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateTask_DeletedUser(t *testing.T) {
	_, _, _, router := newTestServer(t)
	r := router("ghost-uid")

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{
		"title":   "Pay rent",
		"dueDate": "2020-01-01",
		"dueTime": "09:00",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListTasks_SearchAndSort(t *testing.T) {
	_, st, _, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)
	ctx := context.Background()

	for _, task := range []store.NewTask{
		{UserID: uid, Title: "Walk dog", DueDate: "2030-03-01", DueTime: "10:00"},
		{UserID: uid, Title: "Pay rent", DueDate: "2030-01-01", DueTime: "09:00"},
		{UserID: uid, Title: "pay bills", DueDate: "2030-02-01", DueTime: "09:00"},
	} {
		if _, err := st.AddTask(ctx, task); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}

	// 搜索是大小写不敏感的子串匹配。
	w := doJSON(t, r, http.MethodGet, "/tasks?search=PAY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("search 应命中 2 条: %+v", got)
	}

	// 按标题排序（大小写不敏感）。
	w = doJSON(t, r, http.MethodGet, "/tasks?sort=title", nil)
	got = nil
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(got) != 3 || got[0].Title != "pay bills" || got[1].Title != "Pay rent" || got[2].Title != "Walk dog" {
		t.Fatalf("title 排序不符: %+v", got)
	}

	// 按到期时间排序。
	w = doJSON(t, r, http.MethodGet, "/tasks?sort=dueDate", nil)
	got = nil
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if got[0].Title != "Pay rent" || got[2].Title != "Walk dog" {
		t.Fatalf("dueDate 排序不符: %+v", got)
	}

	// 非法排序键。
	w = doJSON(t, r, http.MethodGet, "/tasks?sort=price", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListTasks_EmptyIsArray(t *testing.T) {
	_, st, _, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	w := doJSON(t, r, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); !bytes.Equal(body, []byte("[]")) {
		t.Fatalf("空列表应序列化为 []: %s", body)
	}
}

func TestUpdateTask_OwnershipHidesForeignTask(t *testing.T) {
	_, st, _, router := newTestServer(t)
	alice := mustCreateUser(t, st, "a@b.com")
	bob := mustCreateUser(t, st, "b@b.com")

	task, err := st.AddTask(context.Background(), store.NewTask{UserID: alice, Title: "Pay rent", DueDate: "2030-01-01", DueTime: "09:00"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	// 别人的任务表现得像不存在。
	w := doJSON(t, router(bob), http.MethodPatch, "/tasks/"+task.ID, gin.H{"title": "hijacked"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(t, router(alice), http.MethodPatch, "/tasks/"+task.ID, gin.H{"title": "Pay rent v2"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Title != "Pay rent v2" || resp.DueDate != "2030-01-01" {
		t.Fatalf("补丁结果不符: %+v", resp)
	}
}

func TestToggleTask_ClearsNotifyTag(t *testing.T) {
	_, st, deduper, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	task, err := st.AddTask(context.Background(), store.NewTask{UserID: uid, Title: "Pay rent", DueDate: "2020-01-01", DueTime: "09:00"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/tasks/"+task.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Completed || resp.Overdue {
		t.Fatalf("完成后的任务不应再逾期: %+v", resp)
	}
	// 完成时清掉去重标记，再次逾期能重新提醒。
	if len(deduper.deleteCalls) != 1 || deduper.deleteCalls[0] != "task-"+task.ID {
		t.Fatalf("dedup delete 调用不符: %v", deduper.deleteCalls)
	}

	// 再翻转回未完成，不应再清标记。
	w = doJSON(t, r, http.MethodPost, "/tasks/"+task.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(deduper.deleteCalls) != 1 {
		t.Fatalf("未完成翻转不应清标记: %v", deduper.deleteCalls)
	}
}

func TestDeleteTask(t *testing.T) {
	_, st, deduper, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	task, err := st.AddTask(context.Background(), store.NewTask{UserID: uid, Title: "Pay rent", DueDate: "2030-01-01", DueTime: "09:00"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	w := doJSON(t, r, http.MethodDelete, "/tasks/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(deduper.deleteCalls) != 1 {
		t.Fatalf("删除任务应清掉去重标记: %v", deduper.deleteCalls)
	}

	// 再删一次：任务已经不存在，表现为 404。
	w = doJSON(t, r, http.MethodDelete, "/tasks/"+task.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMeAndDeleteAccount(t *testing.T) {
	_, st, _, router := newTestServer(t)
	uid := mustCreateUser(t, st, "a@b.com")
	r := router(uid)

	w := doJSON(t, r, http.MethodGet, "/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// 密码哈希不出现在响应里。
	if bytes.Contains(w.Body.Bytes(), []byte("\"password\":\"$2")) {
		t.Fatalf("响应泄露了密码哈希: %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/me/delete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/me", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after account deletion, got %d", w.Code)
	}
}
