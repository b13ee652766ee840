// internal/storage/file_cache.go
package storage

import (
	"os"
	"sort"
	"sync"
	"time"
)

const (
	defaultCacheEntries = 256
	defaultCacheTTL     = 5 * time.Minute
)

// FileCache 文件内容读缓存；文件修改时间或大小变化即视为失效
type FileCache struct {
	entries    map[string]*fileCacheEntry
	mutex      sync.Mutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type fileCacheEntry struct {
	data      []byte
	modTime   time.Time
	size      int64
	createdAt time.Time
	lastRead  time.Time
}

// NewFileCache 创建读缓存；非正数参数使用默认值
func NewFileCache(maxEntries int, ttl time.Duration) *FileCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FileCache{
		entries:    make(map[string]*fileCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get 命中时返回内容副本
func (c *FileCache) Get(path string, info os.FileInfo) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	now := c.now()
	if !entry.modTime.Equal(info.ModTime()) || entry.size != info.Size() || now.Sub(entry.createdAt) > c.ttl {
		delete(c.entries, path)
		return nil, false
	}
	entry.lastRead = now
	return append([]byte(nil), entry.data...), true
}

// Put 写入缓存，超过上限时淘汰最久未读的 20%
func (c *FileCache) Put(path string, info os.FileInfo, data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.entries[path] = &fileCacheEntry{
		data:      append([]byte(nil), data...),
		modTime:   info.ModTime(),
		size:      info.Size(),
		createdAt: now,
		lastRead:  now,
	}
	if len(c.entries) > c.maxEntries {
		c.evict(max(1, c.maxEntries/5))
	}
}

// Invalidate 删除条目
func (c *FileCache) Invalidate(path string) {
	c.mutex.Lock()
	delete(c.entries, path)
	c.mutex.Unlock()
}

// Len 当前条目数
func (c *FileCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

func (c *FileCache) evict(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	ages := make([]keyAge, 0, len(c.entries))
	for k, v := range c.entries {
		ages = append(ages, keyAge{k, v.lastRead})
	}
	sort.Slice(ages, func(i, j int) bool {
		return ages[i].time.Before(ages[j].time)
	})

	for i := 0; i < min(count, len(ages)); i++ {
		delete(c.entries, ages[i].key)
	}
}
