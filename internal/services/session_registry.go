// internal/services/session_registry.go
package services

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// 服务层共享的未找到错误，消息原样返回给客户端
var (
	ErrSessionNotFound = apperrors.NewNotFoundError("Session not found", nil)
	ErrSceneNotFound   = apperrors.NewNotFoundError("Scene not found", nil)
	ErrProjectNotFound = apperrors.NewNotFoundError("Project not found", nil)
	ErrScriptNotFound  = apperrors.NewNotFoundError("Script file not found", nil)
)

type registryEntry struct {
	session   *models.GenerationSession
	updatedAt time.Time
}

// SessionRegistry 进程内的会话表
//
// 对同一会话的读-改-写通过 LockManager 串行化；Get 返回深拷贝，
// 调用方持有的快照不会被其他协程修改。
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*registryEntry
	locks    *LockManager

	subMu       sync.Mutex
	subscribers map[string]map[chan *models.GenerationSession]struct{}

	metrics *utils.PipelineMetrics
	now     func() time.Time
}

// NewSessionRegistry 创建会话表
func NewSessionRegistry(metrics *utils.PipelineMetrics) *SessionRegistry {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	return &SessionRegistry{
		sessions:    make(map[string]*registryEntry),
		locks:       NewLockManager(),
		subscribers: make(map[string]map[chan *models.GenerationSession]struct{}),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Get 返回会话快照
func (r *SessionRegistry) Get(id string) (*models.GenerationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session.Clone(), true
}

// Exists 会话是否存在
func (r *SessionRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Set 以 session_id 为键整体写入（插入或替换）
func (r *SessionRegistry) Set(session *models.GenerationSession) {
	snapshot := session.Clone()
	r.locks.ExecuteWithSessionLock(snapshot.SessionID, func() error {
		r.store(snapshot)
		return nil
	})
}

// Update 在会话锁内执行读-改-写；会话不存在时返回 ErrSessionNotFound 且不会重新创建
func (r *SessionRegistry) Update(id string, fn func(*models.GenerationSession) error) (*models.GenerationSession, error) {
	var result *models.GenerationSession
	err := r.locks.ExecuteWithSessionLock(id, func() error {
		current, ok := r.Get(id)
		if !ok {
			return ErrSessionNotFound
		}
		if err := fn(current); err != nil {
			return err
		}
		current.SessionID = id

		r.mu.Lock()
		if _, still := r.sessions[id]; !still {
			r.mu.Unlock()
			return ErrSessionNotFound
		}
		r.sessions[id] = &registryEntry{session: current, updatedAt: r.now()}
		r.mu.Unlock()

		result = current.Clone()
		r.publish(id, current)
		return nil
	})
	return result, err
}

func (r *SessionRegistry) store(session *models.GenerationSession) {
	r.mu.Lock()
	r.sessions[session.SessionID] = &registryEntry{session: session, updatedAt: r.now()}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.publish(session.SessionID, session)
}

// Delete 删除会话；不存在时返回 false
func (r *SessionRegistry) Delete(id string) bool {
	deleted := false
	r.locks.ExecuteWithSessionLock(id, func() error {
		r.mu.Lock()
		_, deleted = r.sessions[id]
		delete(r.sessions, id)
		count := len(r.sessions)
		r.mu.Unlock()

		if deleted {
			r.metrics.SetActiveSessions(count)
			r.closeSubscribers(id)
		}
		return nil
	})
	return deleted
}

// Count 当前会话数量
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List 会话摘要，按 session_id 排序
func (r *SessionRegistry) List() []models.SessionSummary {
	r.mu.RLock()
	summaries := make([]models.SessionSummary, 0, len(r.sessions))
	for _, entry := range r.sessions {
		summaries = append(summaries, entry.session.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SessionID < summaries[j].SessionID
	})
	return summaries
}

// Sweep 删除所有终止状态（completed/failed）的会话，返回删除数量
func (r *SessionRegistry) Sweep() int {
	return r.sweep(func(*registryEntry) bool { return true })
}

// SweepOlderThan 删除空闲超过 age 的终止状态会话
func (r *SessionRegistry) SweepOlderThan(age time.Duration) int {
	cutoff := r.now().Add(-age)
	return r.sweep(func(e *registryEntry) bool { return e.updatedAt.Before(cutoff) })
}

func (r *SessionRegistry) sweep(match func(*registryEntry) bool) int {
	r.mu.Lock()
	var removed []string
	for id, entry := range r.sessions {
		if entry.session.Status.Terminal() && match(entry) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, id := range removed {
		r.closeSubscribers(id)
	}
	if len(removed) > 0 {
		r.metrics.SetActiveSessions(count)
		utils.GetLogger().Info("Swept terminal sessions", map[string]interface{}{
			"removed":   len(removed),
			"remaining": count,
		})
	}
	return len(removed)
}

// RetentionSweepInterval 按保留时长推导清理间隔，最短一秒
func RetentionSweepInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval.Truncate(time.Second)
}

// Subscribe 订阅会话的后续快照；会话被删除时通道关闭。
// 通道只保留最新快照，慢速消费者会跳过中间状态。
func (r *SessionRegistry) Subscribe(id string) (<-chan *models.GenerationSession, func()) {
	ch := make(chan *models.GenerationSession, 1)

	r.subMu.Lock()
	if r.subscribers[id] == nil {
		r.subscribers[id] = make(map[chan *models.GenerationSession]struct{})
	}
	r.subscribers[id][ch] = struct{}{}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if subs, ok := r.subscribers[id]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(r.subscribers, id)
			}
		}
	}
	return ch, cancel
}

func (r *SessionRegistry) publish(id string, session *models.GenerationSession) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for ch := range r.subscribers[id] {
		snapshot := session.Clone()
		select {
		case ch <- snapshot:
		default:
			// 丢弃旧快照，保留最新
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func (r *SessionRegistry) closeSubscribers(id string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for ch := range r.subscribers[id] {
		close(ch)
	}
	delete(r.subscribers, id)
}
