package memory

import (
	"context"
	"time"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	if u.Username != nil {
		name := *u.Username
		cp.Username = &name
	}
	if u.GoogleSubject != nil {
		sub := *u.GoogleSubject
		cp.GoogleSubject = &sub
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

// CreateUser 创建用户
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return storage.ErrEmailExists
	}
	if user.Username != nil {
		if _, exists := s.byUsername[*user.Username]; exists {
			return storage.ErrUsernameTaken
		}
	}

	now := s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.users[user.ID] = cloneUser(user)
	s.byEmail[user.Email] = user.ID
	if user.GoogleSubject != nil {
		s.bySubject[*user.GoogleSubject] = user.ID
	}
	if user.Username != nil {
		s.byUsername[*user.Username] = user.ID
	}
	return nil
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(s.byEmail[email])
}

// GetUserByGoogleSubject 根据 Google 账号标识获取用户
func (s *Store) GetUserByGoogleSubject(_ context.Context, subject string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(s.bySubject[subject])
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(s.byUsername[username])
}

func (s *Store) userLocked(id string) (*domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(user), nil
}

// UpdateUser 更新用户资料（用户名通过 ClaimUsername 修改）
func (s *Store) UpdateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if user.Email != existing.Email {
		if _, taken := s.byEmail[user.Email]; taken {
			return storage.ErrEmailExists
		}
		delete(s.byEmail, existing.Email)
		s.byEmail[user.Email] = user.ID
	}
	if existing.GoogleSubject == nil && user.GoogleSubject != nil {
		s.bySubject[*user.GoogleSubject] = user.ID
	}

	updated := cloneUser(user)
	updated.Username = existing.Username
	updated.UpdatedAt = s.now().UTC()
	s.users[user.ID] = updated
	return nil
}

// ClaimUsername 认领用户名，已被其他用户占用时返回 ErrUsernameTaken
func (s *Store) ClaimUsername(_ context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if owner, taken := s.byUsername[username]; taken && owner != userID {
		return storage.ErrUsernameTaken
	}

	if user.Username != nil {
		delete(s.byUsername, *user.Username)
	}
	name := username
	user.Username = &name
	user.UpdatedAt = s.now().UTC()
	s.byUsername[username] = userID
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	t := at.UTC()
	user.LastLoginAt = &t
	return nil
}

// ========== 订阅 ==========

// GetSubscriptionByUser 获取用户订阅
func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subsByUser[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// SaveSubscription 按用户写入或覆盖订阅
func (s *Store) SaveSubscription(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return storage.ErrNotFound
	}

	now := s.now().UTC()
	if existing, ok := s.subsByUser[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	cp := *sub
	s.subsByUser[sub.UserID] = &cp
	return nil
}
