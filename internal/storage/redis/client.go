package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tinypm/backend/internal/config"
)

// Client 路由缓存使用的 Redis 连接
//
// 代理热路径上的每次主机名查询都会先读这里。读写超时保持在亚秒级，
// 超时由 hybrid 存储回落到数据库查询。
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 连接 Redis 并立即 Ping，启动时就暴露配置错误
func New(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     20,
		MinIdleConns: 4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect route cache redis %s: %w", cfg.Address, err)
	}

	log = log.Named("redis")
	log.Info("route cache connected", zap.String("address", cfg.Address), zap.Int("db", cfg.DB))

	return &Client{rdb: rdb, log: log}, nil
}

// Client 返回底层客户端，供 Cache 使用
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

// Close 关闭连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Warn("route cache close failed", zap.Error(err))
		return err
	}
	return nil
}

// Ping 检查连接是否可用
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
