package memory

import (
	"context"
	"sort"
	"time"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// CreateCustomDomain 在同一把锁内检查订阅并写入记录
func (s *Store) CreateCustomDomain(_ context.Context, record *domain.CustomDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subsByUser[record.UserID].IsActive(s.now()) {
		return storage.ErrSubscriptionRequired
	}
	if _, exists := s.byDomain[record.Domain]; exists {
		return storage.ErrDomainExists
	}
	if _, exists := s.byCode[record.VerificationCode]; exists {
		return storage.ErrDomainExists
	}

	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	s.domains[record.ID] = record.Clone()
	s.byDomain[record.Domain] = record.ID
	s.byCode[record.VerificationCode] = record.ID
	return nil
}

// GetCustomDomain 根据 ID 获取域名记录
func (s *Store) GetCustomDomain(_ context.Context, id string) (*domain.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.domains[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record.Clone(), nil
}

// GetCustomDomainByDomain 根据域名获取记录
func (s *Store) GetCustomDomainByDomain(_ context.Context, name string) (*domain.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDomain[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.domains[id].Clone(), nil
}

// ListCustomDomainsByUser 按创建时间倒序列出用户的域名
func (s *Store) ListCustomDomainsByUser(_ context.Context, userID string) ([]*domain.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CustomDomain, 0)
	for _, record := range s.domains {
		if record.UserID == userID {
			result = append(result, record.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// BeginVerificationAttempt 比较并交换：观察到的次数和上次时间未变化时才记录本次尝试
func (s *Store) BeginVerificationAttempt(_ context.Context, id string, claim storage.AttemptClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.domains[id]
	if !ok {
		return false, storage.ErrNotFound
	}

	if record.IsActive() ||
		record.VerificationAttempts != claim.ObservedAttempts ||
		record.VerificationAttempts >= claim.MaxAttempts ||
		!sameInstant(record.LastAttemptAt, claim.ObservedLastAttemptAt) {
		return false, nil
	}

	now := claim.Now.UTC()
	record.VerificationAttempts++
	record.LastAttemptAt = &now
	record.Status = domain.DomainStatusDNSVerification
	record.UpdatedAt = now
	return true, nil
}

// SaveVerificationResult 保存验证结果
func (s *Store) SaveVerificationResult(_ context.Context, result *domain.CustomDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.domains[result.ID]
	if !ok {
		return storage.ErrNotFound
	}

	updated := result.Clone()
	record.Status = updated.Status
	record.VerifiedAt = updated.VerifiedAt
	record.ErrorMessage = updated.ErrorMessage
	record.UpdatedAt = s.now().UTC()
	result.UpdatedAt = record.UpdatedAt
	return nil
}

// DeleteCustomDomain 删除域名，只有所有者可以删除
func (s *Store) DeleteCustomDomain(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.domains[id]
	if !ok || record.UserID != userID {
		return storage.ErrNotFound
	}

	delete(s.byDomain, record.Domain)
	delete(s.byCode, record.VerificationCode)
	delete(s.domains, id)
	return nil
}

// FindActiveByHostname 查找已激活域名对应的路由
func (s *Store) FindActiveByHostname(_ context.Context, hostname string) (*domain.ActiveRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDomain[hostname]
	if !ok {
		return nil, storage.ErrNotFound
	}
	record := s.domains[id]
	if !record.IsActive() {
		return nil, storage.ErrNotFound
	}
	user, ok := s.users[record.UserID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &domain.ActiveRoute{
		DomainID: record.ID,
		UserID:   record.UserID,
		Username: user.UsernameValue(),
	}, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
