package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 10000
	defaultMinBatch   = 8
	purgeInterval     = time.Minute
)

// entry 缓存条目
type entry struct {
	result    map[string]string // address -> userID
	expiresAt time.Time
}

// AttributionCache 归属查询结果缓存
//
// 键为候选地址集合排序后的 sha256，同一批候选地址短期内重复查询时
// 直接命中。候选集小于 minBatch 时不走缓存，直查数据库更划算。
type AttributionCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // FIFO 淘汰序

	ttl        time.Duration
	maxEntries int
	minBatch   int

	stopCh chan struct{}
	once   sync.Once
}

// NewAttributionCache 创建归属缓存并启动后台清理
func NewAttributionCache(ttl time.Duration, maxEntries, minBatch int) *AttributionCache {
	if ttl == 0 {
		ttl = defaultTTL
	}
	if maxEntries == 0 {
		maxEntries = defaultMaxEntries
	}
	if minBatch == 0 {
		minBatch = defaultMinBatch
	}

	c := &AttributionCache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		minBatch:   minBatch,
		stopCh:     make(chan struct{}),
	}
	go c.purgeLoop()
	return c
}

// CacheKey 计算候选地址集合的缓存键
// 排序保证集合相同时键相同，与输入顺序无关
func CacheKey(addresses []string) string {
	sorted := make([]string, len(addresses))
	for i, addr := range addresses {
		sorted[i] = strings.ToLower(addr)
	}
	sort.Strings(sorted)

	h := sha256.New()
	for _, addr := range sorted {
		h.Write([]byte(addr))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Eligible 判断候选集是否达到走缓存的规模
func (c *AttributionCache) Eligible(batchSize int) bool {
	return batchSize >= c.minBatch
}

// Get 查询缓存，过期条目视为未命中
func (c *AttributionCache) Get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		// 淘汰序槽位一并移除，否则重新写入同键后 FIFO 会误杀新条目
		delete(c.entries, key)
		c.removeSlot(key)
		return nil, false
	}
	return e.result, true
}

// removeSlot 从淘汰序中移除键的槽位，调用方需持锁
func (c *AttributionCache) removeSlot(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Put 写入缓存，容量满时按 FIFO 淘汰最旧条目
func (c *AttributionCache) Put(key string, result map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}

	c.entries[key] = &entry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Len 返回当前条目数
func (c *AttributionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear 清空缓存
func (c *AttributionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// Stop 停止后台清理并清空缓存
func (c *AttributionCache) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	c.Clear()
}

// purgeLoop 后台定期清理过期条目
func (c *AttributionCache) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *AttributionCache) purgeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}
