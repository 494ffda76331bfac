package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/storage"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailNotVerified Google 账号邮箱未验证
	ErrEmailNotVerified = errors.New("google account email is not verified")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LoginResult 登录结果
type LoginResult struct {
	User   *domain.User   `json:"user"`
	Tokens *jwt.TokenPair `json:"tokens"`
	IsNew  bool           `json:"isNew"`
}

// Service 认证服务
type Service struct {
	users    storage.UserRepository
	provider IdentityProvider
	tokens   *jwt.Manager
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewService 创建认证服务，provider 为 nil 时禁用 Google 登录
func NewService(users storage.UserRepository, provider IdentityProvider, tokens *jwt.Manager, log *zap.Logger) *Service {
	return &Service{
		users:    users,
		provider: provider,
		tokens:   tokens,
		log:      log.Named("auth"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *Service) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Tokens 返回 JWT 管理器
func (s *Service) Tokens() *jwt.Manager {
	return s.tokens
}

// LoginURL 生成 Google 授权地址与防 CSRF 的 state
func (s *Service) LoginURL() (string, string, error) {
	if s.provider == nil {
		return "", "", ErrOAuthNotConfigured
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	return s.provider.AuthCodeURL(state), state, nil
}

// LoginWithGoogle 处理 Google 回调，首次登录自动注册
func (s *Service) LoginWithGoogle(ctx context.Context, code string) (*LoginResult, error) {
	if s.provider == nil {
		return nil, ErrOAuthNotConfigured
	}

	identity, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.log.Warn("google code exchange failed", zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !identity.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	user, isNew, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	tokens, err := s.tokens.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	s.log.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.Bool("new_user", isNew))

	return &LoginResult{User: user, Tokens: tokens, IsNew: isNew}, nil
}

// findOrCreateUser 先按 Google 账号匹配，再按邮箱关联已有用户，都没有则注册
func (s *Service) findOrCreateUser(ctx context.Context, identity *Identity) (*domain.User, bool, error) {
	user, err := s.users.GetUserByGoogleSubject(ctx, identity.Subject)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("get user by subject: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	subject := identity.Subject

	user, err = s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		user.GoogleSubject = &subject
		if user.AvatarURL == "" {
			user.AvatarURL = identity.Picture
		}
		if err := s.users.UpdateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("link google account: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("get user by email: %w", err)
	}

	now := s.now()
	user = &domain.User{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   identity.Name,
		AvatarURL:     identity.Picture,
		GoogleSubject: &subject,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordUserRegistered()
	}
	return user, true, nil
}

// Refresh 使用刷新令牌换发新的令牌对
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.Me(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return s.tokens.GenerateTokenPair(user.ID, user.Email)
}

// Me 获取当前用户
func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateProfileInput 资料更新，nil 字段保持不变
type UpdateProfileInput struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatarUrl"`
}

// UpdateProfile 更新当前用户资料
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Bio != nil {
		user.Bio = *input.Bio
	}
	if input.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*input.AvatarURL)
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}
