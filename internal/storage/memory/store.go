package memory

import (
	"context"
	"sync"
	"time"

	"tinypm/backend/internal/domain"
)

// Store 使用内存保存全部数据，主要用于开发验证和测试。
type Store struct {
	mu sync.RWMutex

	domains      map[string]*domain.CustomDomain // domainID -> record
	byDomain     map[string]string               // hostname -> domainID
	byCode       map[string]string               // verificationCode -> domainID
	users        map[string]*domain.User         // userID -> user
	byEmail      map[string]string               // email -> userID
	bySubject    map[string]string               // googleSubject -> userID
	byUsername   map[string]string               // username -> userID
	subsByUser   map[string]*domain.Subscription // userID -> subscription
	blocks       map[string]*domain.Block        // blockID -> block
	blocksByUser map[string]map[string]struct{}  // userID -> blockIDs
	clicks       []*domain.BlockClick

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间

	now func() time.Time
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		domains:           make(map[string]*domain.CustomDomain),
		byDomain:          make(map[string]string),
		byCode:            make(map[string]string),
		users:             make(map[string]*domain.User),
		byEmail:           make(map[string]string),
		bySubject:         make(map[string]string),
		byUsername:        make(map[string]string),
		subsByUser:        make(map[string]*domain.Subscription),
		blocks:            make(map[string]*domain.Block),
		blocksByUser:      make(map[string]map[string]struct{}),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
		now:               time.Now,
	}
}

// SetClock 替换时间来源，仅用于测试
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ========== 限流 ==========

// IncrementRateLimit 增加限流计数
func (s *Store) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// 清理过期的速率限制条目（每5分钟清理一次）
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// ========== 工具方法 ==========

// Close 内存存储不需要关闭连接
func (s *Store) Close() error {
	return nil
}

// Health 内存存储总是健康的
func (s *Store) Health(context.Context) error {
	return nil
}
