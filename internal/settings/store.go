// Package settings 提供面向键值的持久化存储，
// 用于端点状态与配网凭据在重启后的恢复。
package settings

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hongjun500/lightcore/pkg/logger"
)

// Store 键值存储接口。键采用 "/" 分层，例如 "mt/ep/onoff"。
type Store interface {
	// Get 读取键值，不存在时 ok 为 false
	Get(key string) (val []byte, ok bool)
	// ValLen 键值长度，不存在时为 0，用作存在性探测
	ValLen(key string) int
	// SaveOne 写入单个键值
	SaveOne(key string, val []byte) error
	// Delete 删除指定前缀下的全部键，用于恢复出厂设置
	Delete(prefix string) error
	// Save 将当前快照落盘（内存实现为空操作）
	Save() error
}

// MemStore 纯内存实现，测试和单进程模拟时使用
type MemStore struct {
	mu sync.RWMutex
	kv map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{kv: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (s *MemStore) ValLen(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.kv[key])
}

func (s *MemStore) SaveOne(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(val))
	copy(buf, val)
	s.kv[key] = buf
	return nil
}

func (s *MemStore) Delete(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			delete(s.kv, k)
		}
	}
	return nil
}

func (s *MemStore) Save() error { return nil }

// Len 当前键数量
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.kv)
}

// FileStore 在内存快照之上增加 JSON 文件持久化。
// New 时加载已有文件，Save 时整体覆写。
type FileStore struct {
	mem  *MemStore
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{mem: NewMemStore(), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		// 文件损坏时从空快照起步，不阻塞启动
		logger.M("settings").Warnw("snapshot_corrupt", "path", path, "err", err)
		return s, nil
	}
	for k, v := range raw {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			continue
		}
		s.mem.kv[k] = b
	}
	return s, nil
}

func (s *FileStore) Get(key string) ([]byte, bool) { return s.mem.Get(key) }

func (s *FileStore) ValLen(key string) int { return s.mem.ValLen(key) }

func (s *FileStore) SaveOne(key string, val []byte) error { return s.mem.SaveOne(key, val) }

func (s *FileStore) Delete(prefix string) error { return s.mem.Delete(prefix) }

func (s *FileStore) Save() error {
	s.mem.mu.RLock()
	raw := make(map[string]string, len(s.mem.kv))
	for k, v := range s.mem.kv {
		raw[k] = base64.StdEncoding.EncodeToString(v)
	}
	s.mem.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
