package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// ErrCacheMiss 缓存中没有该键
var ErrCacheMiss = storage.ErrCacheMiss

// notConfigured 负缓存标记：该主机名确认没有已激活的域名
const notConfigured = "-"

// Cache 自定义域名路由缓存与限流计数
type Cache struct {
	client      *goredis.Client
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	negative := ttl / 5
	if negative < 10*time.Second {
		negative = 10 * time.Second
	}
	return &Cache{
		client:      client.Client(),
		ttl:         ttl,
		negativeTTL: negative,
	}
}

func routeKey(hostname string) string {
	return fmt.Sprintf("route:%s", hostname)
}

// ========== 路由缓存 ==========

// GetRoute 读取缓存的路由
//
// 返回 (nil, nil) 表示缓存确认该主机名未配置；未缓存时返回 ErrCacheMiss。
func (c *Cache) GetRoute(ctx context.Context, hostname string) (*domain.ActiveRoute, error) {
	data, err := c.client.Get(ctx, routeKey(hostname)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	if data == notConfigured {
		return nil, nil
	}

	var route domain.ActiveRoute
	if err := json.Unmarshal([]byte(data), &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// SetRoute 缓存路由，route 为 nil 时写入短期负缓存
func (c *Cache) SetRoute(ctx context.Context, hostname string, route *domain.ActiveRoute) error {
	if route == nil {
		return c.client.Set(ctx, routeKey(hostname), notConfigured, c.negativeTTL).Err()
	}

	data, err := json.Marshal(route)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, routeKey(hostname), data, c.ttl).Err()
}

// DeleteRoute 删除缓存的路由
func (c *Cache) DeleteRoute(ctx context.Context, hostname string) error {
	return c.client.Del(ctx, routeKey(hostname)).Err()
}

// ========== 限流缓存 ==========

// IncrementRateLimit 固定窗口计数，窗口从第一次计数开始
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	key = fmt.Sprintf("ratelimit:%s", key)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭底层连接
func (c *Cache) Close() error {
	return c.client.Close()
}
