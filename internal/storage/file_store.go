// internal/storage/file_store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileStore 把一个存储区域保存为单个 JSON 文件。
// 每次写入都整体替换文件，因此 SetMany 是原子的。
type FileStore struct {
	fs       *FileStorage
	filename string
}

// NewFileStore 创建文件存储区域
func NewFileStore(fs *FileStorage, area string) *FileStore {
	return &FileStore{fs: fs, filename: area + ".json"}
}

func decodeArea(content []byte) (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)
	if len(content) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(content, &values); err != nil {
		return nil, fmt.Errorf("解析存储文件失败: %w", err)
	}
	return values, nil
}

// Get 读取键；不存在返回 ErrNotFound
func (s *FileStore) Get(ctx context.Context, key string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := s.fs.LoadTextFile("", s.filename)
	if err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	values, err := decodeArea(content)
	if err != nil {
		return err
	}
	raw, ok := values[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

// Set 写入单个键
func (s *FileStore) Set(ctx context.Context, key string, v interface{}) error {
	return s.SetMany(ctx, map[string]interface{}{key: v})
}

// SetMany 在一次文件替换中写入多个键
func (s *FileStore) SetMany(ctx context.Context, values map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化键 %s 失败: %w", key, err)
		}
		encoded[key] = raw
	}

	return s.fs.UpdateFile("", s.filename, func(current []byte) ([]byte, error) {
		existing, err := decodeArea(current)
		if err != nil {
			return nil, err
		}
		for key, raw := range encoded {
			existing[key] = raw
		}
		return json.MarshalIndent(existing, "", "  ")
	})
}

// Delete 删除键，不存在的键忽略
func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 || !s.fs.FileExists("", s.filename) {
		return nil
	}

	return s.fs.UpdateFile("", s.filename, func(current []byte) ([]byte, error) {
		existing, err := decodeArea(current)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			delete(existing, key)
		}
		return json.MarshalIndent(existing, "", "  ")
	})
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
