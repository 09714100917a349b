package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFileKVPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "vault.json")
	ctx := context.Background()

	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	if err := kv.Set(ctx, "users", []byte(`[{"uid":"u1"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// 新实例读同一个文件应看到之前写入的值。
	kv2, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	raw, ok, err := kv2.Get(ctx, "users")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `[{"uid":"u1"}]` {
		t.Fatalf("值不符: %s", raw)
	}
}

func TestFileKVMissingKeyAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	ctx := context.Background()

	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	if _, ok, err := kv.Get(ctx, "tasks"); ok || err != nil {
		t.Fatalf("缺失键: ok=%v err=%v", ok, err)
	}
	// 删除不存在的键不报错。
	if err := kv.Delete(ctx, "tasks"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := kv.Set(ctx, "tasks", []byte(`[]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Delete(ctx, "tasks"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "tasks"); ok {
		t.Fatalf("删除后键仍存在")
	}
}

// 端到端走一遍注册+建任务，检查落盘文件就是约定的三键布局。
func TestFileLayoutKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	ctx := context.Background()

	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	s := New(kv, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	user, err := s.CreateUser(ctx, NewUser{Email: "a@b.com", Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.AddTask(ctx, NewTask{UserID: user.UID, Title: "Pay rent", DueDate: "2020-01-01", DueTime: "09:00"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := s.Authenticate(ctx, "a@b.com", "secret1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读文件: %v", err)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("文件应是合法 JSON: %v", err)
	}
	for _, key := range []string{KeyUsers, KeyTasks, KeyLoggedInUser} {
		if _, ok := data[key]; !ok {
			t.Fatalf("落盘缺少键 %q: %s", key, raw)
		}
	}
	// 登出后 loggedInUser 键应整个消失，而不是置空。
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	raw, _ = os.ReadFile(path)
	data = map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("文件应是合法 JSON: %v", err)
	}
	if _, ok := data[KeyLoggedInUser]; ok {
		t.Fatalf("登出后 %q 键应被删除", KeyLoggedInUser)
	}
}
