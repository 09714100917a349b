package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV 把所有键存进单个 JSON 文件。
//
// 这是默认后端：单用户、本机、无并发要求，整文件读-改-写足够。
// 每次 Get 都重新读文件，每次 Set/Delete 都整文件回写，语义上等价于
// localStorage 的 getItem/setItem。
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV 创建文件后端，必要时建立父目录。
func NewFileKV(path string) (*FileKV, error) {
	if path == "" {
		return nil, fmt.Errorf("file kv: path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("file kv: create dir: %w", err)
		}
	}
	return &FileKV{path: path}, nil
}

// Get 实现 KV。
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return nil, false, err
	}
	raw, ok := data[key]
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

// Set 实现 KV。
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = json.RawMessage(value)
	return f.save(data)
}

// Delete 实现 KV。
func (f *FileKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.save(data)
}

func (f *FileKV) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file kv: read: %w", err)
	}
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	data := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("file kv: parse %s: %w", f.path, err)
	}
	return data, nil
}

func (f *FileKV) save(data map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("file kv: marshal: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0644); err != nil {
		return fmt.Errorf("file kv: write: %w", err)
	}
	return nil
}
