package postgres

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// CreateUser 创建用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return translateError(s.withContext(ctx).Create(user).Error, storage.ErrEmailExists)
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

// GetUserByGoogleSubject 根据 Google 账号标识获取用户
func (s *Store) GetUserByGoogleSubject(ctx context.Context, subject string) (*domain.User, error) {
	return s.findUser(ctx, "google_subject = ?", subject)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, "username = ?", username)
}

func (s *Store) findUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	var user domain.User
	if err := s.withContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		return nil, translateError(err, err)
	}
	return &user, nil
}

// UpdateUser 更新用户资料（用户名通过 ClaimUsername 修改）
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	result := s.withContext(ctx).Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"email":          user.Email,
			"display_name":   user.DisplayName,
			"avatar_url":     user.AvatarURL,
			"bio":            user.Bio,
			"google_subject": user.GoogleSubject,
			"updated_at":     s.now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error, storage.ErrEmailExists)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClaimUsername 认领用户名，唯一索引冲突映射为 ErrUsernameTaken
func (s *Store) ClaimUsername(ctx context.Context, userID, username string) error {
	result := s.withContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"username":   username,
			"updated_at": s.now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error, storage.ErrUsernameTaken)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.withContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_login_at", at.UTC()).Error
}

// ========== 订阅 ==========

// GetSubscriptionByUser 获取用户订阅
func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := s.withContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, translateError(err, err)
	}
	return &sub, nil
}

// SaveSubscription 按 user_id 写入或覆盖订阅
func (s *Store) SaveSubscription(ctx context.Context, sub *domain.Subscription) error {
	updates := clause.AssignmentColumns([]string{
		"status",
		"plan",
		"provider_customer_id",
		"provider_subscription_id",
		"current_period_end",
		"updated_at",
	})
	return s.withContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: updates,
	}).Create(sub).Error
}
