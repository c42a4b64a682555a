// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStorage 提供文件存储服务
type FileStorage struct {
	BaseDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map

	// 简单读缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	return &FileStorage{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 32,
	}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// writeAtomic 先写临时文件再重命名，调用方持有写锁
func (fs *FileStorage) writeAtomic(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0600); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// readLocked 读取文件内容，调用方持有锁
func (fs *FileStorage) readLocked(fullPath string) ([]byte, error) {
	if data, ok := fs.cached(fullPath); ok {
		return data, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}

	fs.updateCache(fullPath, content)
	return content, nil
}

// SaveTextFile 原子性保存文件
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullPath := fs.path(dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	return fs.writeAtomic(fullPath, content)
}

// LoadTextFile 读取文本文件；文件不存在时返回的错误满足 os.IsNotExist
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := fs.path(dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	return fs.readLocked(fullPath)
}

// UpdateFile 在同一把写锁内读取、修改并写回文件。
// 文件不存在时 fn 收到 nil。
func (fs *FileStorage) UpdateFile(dirPath, filename string, fn func(current []byte) ([]byte, error)) error {
	fullPath := fs.path(dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	current, err := fs.readLocked(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("读取文件失败: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	return fs.writeAtomic(fullPath, next)
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, err := os.Stat(fs.path(dirPath, filename))
	return err == nil
}

func (fs *FileStorage) cached(path string) ([]byte, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()

	entry, exists := fs.cache[path]
	if !exists || time.Since(entry.Timestamp) >= fs.cacheExpiry {
		return nil, false
	}
	return entry.Data, true
}

func (fs *FileStorage) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{Data: data, Timestamp: time.Now()}

	if len(fs.cache) <= fs.maxCacheSize {
		return
	}

	// 删除最老的条目
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range fs.cache {
		if oldestKey == "" || entry.Timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.Timestamp
		}
	}
	delete(fs.cache, oldestKey)
}

func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}
