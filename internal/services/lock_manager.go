// internal/services/lock_manager.go
package services

import "sync"

// LockManager 按会话ID分配互斥锁，引用计数归零时回收
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*LockInfo
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	mutex sync.Mutex
	refs  int // 持有或等待该锁的协程数
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*LockInfo),
	}
}

func (lm *LockManager) acquire(id string) *LockInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	info, exists := lm.locks[id]
	if !exists {
		info = &LockInfo{}
		lm.locks[id] = info
	}
	info.refs++
	return info
}

func (lm *LockManager) release(id string, info *LockInfo) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	info.refs--
	if info.refs == 0 {
		delete(lm.locks, id)
	}
}

// ExecuteWithSessionLock 在会话锁保护下执行操作，同一会话的调用串行执行
func (lm *LockManager) ExecuteWithSessionLock(id string, fn func() error) error {
	info := lm.acquire(id)
	info.mutex.Lock()
	defer func() {
		info.mutex.Unlock()
		lm.release(id, info)
	}()

	return fn()
}

// ActiveLocks 当前持有或等待中的锁数量
func (lm *LockManager) ActiveLocks() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
