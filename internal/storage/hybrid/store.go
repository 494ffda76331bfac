package hybrid

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// RouteCache 路由缓存
type RouteCache interface {
	GetRoute(ctx context.Context, hostname string) (*domain.ActiveRoute, error)
	SetRoute(ctx context.Context, hostname string, route *domain.ActiveRoute) error
	DeleteRoute(ctx context.Context, hostname string) error
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Store 混合存储实现，数据库为准，缓存层（Redis 或进程内缓存）负责主机名路由与限流计数
type Store struct {
	storage.Store
	cache RouteCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache RouteCache, log *zap.Logger) *Store {
	return &Store{
		Store: db,
		cache: cache,
		log:   log.Named("hybrid"),
	}
}

// FindActiveByHostname 先查缓存，未命中时查数据库并回填（包括负缓存）
func (s *Store) FindActiveByHostname(ctx context.Context, hostname string) (*domain.ActiveRoute, error) {
	route, err := s.cache.GetRoute(ctx, hostname)
	switch {
	case err == nil && route != nil:
		return route, nil
	case err == nil:
		return nil, storage.ErrNotFound
	case !errors.Is(err, storage.ErrCacheMiss):
		s.log.Warn("route cache read failed", zap.String("host", hostname), zap.Error(err))
	}

	route, err = s.Store.FindActiveByHostname(ctx, hostname)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if cacheErr := s.cache.SetRoute(ctx, hostname, route); cacheErr != nil {
		s.log.Warn("route cache write failed", zap.String("host", hostname), zap.Error(cacheErr))
	}
	return route, err
}

// SaveVerificationResult 保存验证结果并使路由缓存失效
func (s *Store) SaveVerificationResult(ctx context.Context, record *domain.CustomDomain) error {
	if err := s.Store.SaveVerificationResult(ctx, record); err != nil {
		return err
	}
	s.invalidate(ctx, record.Domain)
	return nil
}

// DeleteCustomDomain 删除域名并使路由缓存失效
func (s *Store) DeleteCustomDomain(ctx context.Context, id, userID string) error {
	record, err := s.Store.GetCustomDomain(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteCustomDomain(ctx, id, userID); err != nil {
		return err
	}
	s.invalidate(ctx, record.Domain)
	return nil
}

// ClaimUsername 用户名变化后，该用户所有域名的缓存路由都已过期
func (s *Store) ClaimUsername(ctx context.Context, userID, username string) error {
	if err := s.Store.ClaimUsername(ctx, userID, username); err != nil {
		return err
	}

	records, err := s.Store.ListCustomDomainsByUser(ctx, userID)
	if err != nil {
		s.log.Warn("failed to list domains for cache invalidation", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	for _, record := range records {
		s.invalidate(ctx, record.Domain)
	}
	return nil
}

// IncrementRateLimit 使用 Redis 计数，多实例共享窗口
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.cache.IncrementRateLimit(ctx, key, window)
}

// Health 数据库和 Redis 都可用才算健康
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// Close 先关闭数据库，再关闭缓存连接（如果缓存持有连接）
func (s *Store) Close() error {
	err := s.Store.Close()
	if closer, ok := s.cache.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Store) invalidate(ctx context.Context, hostname string) {
	if err := s.cache.DeleteRoute(ctx, hostname); err != nil {
		s.log.Warn("route cache invalidation failed", zap.String("host", hostname), zap.Error(err))
	}
}
