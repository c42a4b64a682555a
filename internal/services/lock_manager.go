// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按存储键串行化读改写
type LockManager struct {
	locks         map[string]*LockInfo
	globalLock    sync.Mutex
	lockTTL       time.Duration
	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
	refs     int32 // 正在使用的次数，大于0时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:   make(map[string]*LockInfo),
		lockTTL: 10 * time.Minute,
		stop:    make(chan struct{}),
	}
	lm.startCleanup(5 * time.Minute)
	return lm
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.locks[key] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.refs--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithLock 在键锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Size 当前持有的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

func (lm *LockManager) startCleanup(interval time.Duration) {
	lm.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks()
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for key, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
		}
	}
}

// Stop 停止清理协程
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		lm.cleanupTicker.Stop()
		close(lm.stop)
	})
}
