package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// CreateCustomDomain 在一个事务里检查订阅并插入域名记录
func (s *Store) CreateCustomDomain(ctx context.Context, record *domain.CustomDomain) error {
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub domain.Subscription
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("user_id = ?", record.UserID).
			First(&sub).Error
		if isNotFound(err) {
			return storage.ErrSubscriptionRequired
		}
		if err != nil {
			return err
		}
		if !sub.IsActive(s.now()) {
			return storage.ErrSubscriptionRequired
		}

		return translateError(tx.Create(record).Error, storage.ErrDomainExists)
	})
}

// GetCustomDomain 根据 ID 获取域名记录
func (s *Store) GetCustomDomain(ctx context.Context, id string) (*domain.CustomDomain, error) {
	var record domain.CustomDomain
	if err := s.withContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, translateError(err, err)
	}
	return &record, nil
}

// GetCustomDomainByDomain 根据域名获取记录
func (s *Store) GetCustomDomainByDomain(ctx context.Context, name string) (*domain.CustomDomain, error) {
	var record domain.CustomDomain
	if err := s.withContext(ctx).Where("domain = ?", name).First(&record).Error; err != nil {
		return nil, translateError(err, err)
	}
	return &record, nil
}

// ListCustomDomainsByUser 按创建时间倒序列出用户的域名
func (s *Store) ListCustomDomainsByUser(ctx context.Context, userID string) ([]*domain.CustomDomain, error) {
	records := make([]*domain.CustomDomain, 0)
	err := s.withContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

// BeginVerificationAttempt 条件更新：只有观察到的次数和上次时间未被其他请求修改时才成功
func (s *Store) BeginVerificationAttempt(ctx context.Context, id string, claim storage.AttemptClaim) (bool, error) {
	now := claim.Now.UTC().Truncate(time.Microsecond)

	query := s.withContext(ctx).Model(&domain.CustomDomain{}).
		Where("id = ? AND verification_attempts = ? AND verification_attempts < ? AND status <> ?",
			id, claim.ObservedAttempts, claim.MaxAttempts, domain.DomainStatusActive)
	if claim.ObservedLastAttemptAt == nil {
		query = query.Where("last_attempt_at IS NULL")
	} else {
		query = query.Where("last_attempt_at = ?", claim.ObservedLastAttemptAt.UTC())
	}

	result := query.Updates(map[string]interface{}{
		"verification_attempts": gorm.Expr("verification_attempts + 1"),
		"last_attempt_at":       now,
		"status":                domain.DomainStatusDNSVerification,
		"updated_at":            now,
	})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.withContext(ctx).Model(&domain.CustomDomain{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// SaveVerificationResult 保存验证结果
func (s *Store) SaveVerificationResult(ctx context.Context, record *domain.CustomDomain) error {
	result := s.withContext(ctx).Model(&domain.CustomDomain{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"status":        record.Status,
			"verified_at":   record.VerifiedAt,
			"error_message": record.ErrorMessage,
			"updated_at":    s.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCustomDomain 删除域名，只有所有者可以删除
func (s *Store) DeleteCustomDomain(ctx context.Context, id, userID string) error {
	result := s.withContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.CustomDomain{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FindActiveByHostname 精确匹配已激活域名并返回所有者用户名
func (s *Store) FindActiveByHostname(ctx context.Context, hostname string) (*domain.ActiveRoute, error) {
	if s.routes != nil {
		return s.routes.LookupActiveRoute(ctx, hostname)
	}

	var route domain.ActiveRoute
	result := s.withContext(ctx).
		Table("custom_domains AS d").
		Select("d.id AS domain_id, d.user_id AS user_id, COALESCE(u.username, '') AS username").
		Joins("JOIN users u ON u.id = d.user_id").
		Where("d.domain = ? AND d.status = ?", hostname, domain.DomainStatusActive).
		Limit(1).
		Scan(&route)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return &route, nil
}
