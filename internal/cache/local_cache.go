package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// LocalCache 进程内缓存（L1 缓存）
//
// 未启用 Redis 时替代它缓存主机名路由并承担限流计数；
// 只在本实例内生效，多实例部署之间依靠 TTL 收敛。
type LocalCache struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，写满后先清理过期条目，仍满则不再写入
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LocalCache{
		data:    make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock 替换时间源（测试用）
func (c *LocalCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// Set 设置缓存值，ttl 为 0 时使用默认值
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Cleanup 定期清理过期条目，直到 ctx 取消
func (c *LocalCache) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.mu.Unlock()
		}
	}
}

func (c *LocalCache) getLocked(key string) (interface{}, bool) {
	entry, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false
	}
	return entry.value, true
}

func (c *LocalCache) setLocked(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictExpiredLocked()
		if len(c.data) >= c.maxSize {
			return
		}
	}
	c.data[key] = &cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

func (c *LocalCache) evictExpiredLocked() {
	now := c.now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}

// ========== 路由缓存 ==========

func routeKey(hostname string) string {
	return "route:" + hostname
}

// GetRoute 读取缓存的路由
//
// 返回 (nil, nil) 表示已确认未配置；未缓存时返回 storage.ErrCacheMiss。
func (c *LocalCache) GetRoute(_ context.Context, hostname string) (*domain.ActiveRoute, error) {
	val, ok := c.Get(routeKey(hostname))
	if !ok {
		return nil, storage.ErrCacheMiss
	}
	route, _ := val.(*domain.ActiveRoute)
	if route == nil {
		return nil, nil
	}
	cp := *route
	return &cp, nil
}

// SetRoute 缓存路由，route 为 nil 时写入短期负缓存
func (c *LocalCache) SetRoute(_ context.Context, hostname string, route *domain.ActiveRoute) error {
	if route == nil {
		c.Set(routeKey(hostname), (*domain.ActiveRoute)(nil), negativeTTL(c.ttl))
		return nil
	}
	cp := *route
	c.Set(routeKey(hostname), &cp, 0)
	return nil
}

// DeleteRoute 删除缓存的路由
func (c *LocalCache) DeleteRoute(_ context.Context, hostname string) error {
	c.Delete(routeKey(hostname))
	return nil
}

// ========== 限流计数 ==========

type counter struct {
	count int64
}

// IncrementRateLimit 固定窗口计数，窗口从第一次计数开始
func (c *LocalCache) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	key = fmt.Sprintf("ratelimit:%s", key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if val, ok := c.getLocked(key); ok {
		ctr := val.(*counter)
		ctr.count++
		return ctr.count, nil
	}
	c.setLocked(key, &counter{count: 1}, window)
	return 1, nil
}

// Ping 本地缓存始终可用
func (c *LocalCache) Ping(context.Context) error {
	return nil
}

func negativeTTL(ttl time.Duration) time.Duration {
	negative := ttl / 5
	if negative < 10*time.Second {
		negative = 10 * time.Second
	}
	if negative > ttl {
		negative = ttl
	}
	return negative
}
