// Package cache 带容量上限与过期时间的泛型缓存，底层为 golang-lru 的 expirable LRU
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 条目自写入起的存活时间，0 表示永不过期
	TTL time.Duration

	// OnEvict 条目被移除（驱逐、过期或删除）时回调
	OnEvict func(key, value any)
}

// Stats 缓存统计
type Stats struct {
	Hits    int64
	Misses  int64
	Removed int64
	Size    int
}

// Cache 并发安全的泛型缓存
type Cache[K comparable, V any] struct {
	name    string
	config  Config
	lru     *lru.LRU[K, V]
	hits    atomic.Int64
	misses  atomic.Int64
	removed atomic.Int64
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	c := &Cache[K, V]{name: config.Name, config: config}
	c.lru = lru.NewLRU[K, V](config.MaxSize, func(key K, value V) {
		c.removed.Add(1)
		if config.OnEvict != nil {
			config.OnEvict(key, value)
		}
	}, config.TTL)
	return c
}

// Get 获取未过期的值
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set 写入或覆盖
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// GetOrLoad 未命中时调用 load 并缓存其结果，load 出错时不缓存
func (c *Cache[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	return c.lru.Remove(key)
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.lru.Purge()
}

func (c *Cache[K, V]) Size() int { return c.lru.Len() }

// Stats 返回统计快照
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Removed: c.removed.Load(),
		Size:    c.lru.Len(),
	}
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, removed=%d",
		c.name, s.Size, c.config.MaxSize, s.Hits, s.Misses, c.HitRate()*100, s.Removed)
}
