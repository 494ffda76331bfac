package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tinypm/backend/internal/config"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/storage"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrBlockNotFound     = errors.New("block not found")
	ErrInvalidBlockType  = errors.New("invalid block type")
	ErrInvalidBlockOrder = errors.New("block order must list every block exactly once")
	ErrBlockTitleTooLong = errors.New("block title too long (max 200 chars)")
)

const maxBlockTitleLength = 200

// ProfileStore 主页服务需要的存储能力
type ProfileStore interface {
	storage.UserRepository
	storage.BlockRepository
}

// ProfileService 用户名、内容块与公开主页
type ProfileService struct {
	store    ProfileStore
	reserved map[string]struct{}
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewProfileService 创建主页服务
func NewProfileService(store ProfileStore, cfg *config.Config, log *zap.Logger) *ProfileService {
	return &ProfileService{
		store:    store,
		reserved: toSet(cfg.Platform.ReservedSubdomains),
		log:      log.Named("profile"),
	}
}

// SetMetrics 设置监控指标
func (s *ProfileService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// ========== 用户名 ==========

// ClaimUsername 认领或修改用户名
func (s *ProfileService) ClaimUsername(ctx context.Context, userID, raw string) (*domain.User, error) {
	username := domain.NormalizeUsername(raw)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if _, ok := s.reserved[username]; ok {
		return nil, domain.ErrReservedUsername
	}

	if err := s.store.ClaimUsername(ctx, userID, username); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			return nil, storage.ErrUsernameTaken
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("claim username: %w", err)
	}

	s.log.Info("username claimed", zap.String("user_id", userID), zap.String("username", username))
	return s.store.GetUserByID(ctx, userID)
}

// GetPublicProfile 获取公开主页，只包含可见的内容块
func (s *ProfileService) GetPublicProfile(ctx context.Context, username string) (*domain.PublicProfile, error) {
	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	blocks, err := s.store.ListBlocksByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	visible := make([]*domain.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.IsVisible {
			visible = append(visible, b)
		}
	}

	return &domain.PublicProfile{
		Username:    user.UsernameValue(),
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Bio:         user.Bio,
		Blocks:      visible,
	}, nil
}

func (s *ProfileService) userByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.store.GetUserByUsername(ctx, domain.NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ========== 内容块 ==========

// BlockInput 创建内容块输入
type BlockInput struct {
	Type      domain.BlockType `json:"type" binding:"required"`
	Title     string           `json:"title"`
	URL       string           `json:"url"`
	Content   string           `json:"content"`
	IsVisible *bool            `json:"isVisible"`
}

// BlockPatch 内容块部分更新，nil 字段保持不变
type BlockPatch struct {
	Title     *string `json:"title"`
	URL       *string `json:"url"`
	Content   *string `json:"content"`
	IsVisible *bool   `json:"isVisible"`
}

// ListBlocks 列出用户全部内容块
func (s *ProfileService) ListBlocks(ctx context.Context, userID string) ([]*domain.Block, error) {
	return s.store.ListBlocksByUser(ctx, userID)
}

// CreateBlock 在末尾追加一个内容块
func (s *ProfileService) CreateBlock(ctx context.Context, userID string, input BlockInput) (*domain.Block, error) {
	block := &domain.Block{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      input.Type,
		Title:     strings.TrimSpace(input.Title),
		URL:       strings.TrimSpace(input.URL),
		Content:   input.Content,
		IsVisible: true,
	}
	if input.IsVisible != nil {
		block.IsVisible = *input.IsVisible
	}
	if err := validateBlock(block); err != nil {
		return nil, err
	}

	existing, err := s.store.ListBlocksByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	block.Position = len(existing)

	if err := s.store.CreateBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	return block, nil
}

// UpdateBlock 更新用户自己的内容块
func (s *ProfileService) UpdateBlock(ctx context.Context, userID, id string, patch BlockPatch) (*domain.Block, error) {
	block, err := s.ownedBlock(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		block.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.URL != nil {
		block.URL = strings.TrimSpace(*patch.URL)
	}
	if patch.Content != nil {
		block.Content = *patch.Content
	}
	if patch.IsVisible != nil {
		block.IsVisible = *patch.IsVisible
	}
	if err := validateBlock(block); err != nil {
		return nil, err
	}

	if err := s.store.UpdateBlock(ctx, block); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("update block: %w", err)
	}
	return block, nil
}

// DeleteBlock 删除用户自己的内容块
func (s *ProfileService) DeleteBlock(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteBlock(ctx, id, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrBlockNotFound
		}
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ReorderBlocks 按给定顺序重排，ids 必须恰好包含用户的每个内容块一次
func (s *ProfileService) ReorderBlocks(ctx context.Context, userID string, ids []string) ([]*domain.Block, error) {
	existing, err := s.store.ListBlocksByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	if len(ids) != len(existing) {
		return nil, ErrInvalidBlockOrder
	}

	owned := make(map[string]bool, len(existing))
	for _, b := range existing {
		owned[b.ID] = false
	}
	for _, id := range ids {
		seen, ok := owned[id]
		if !ok || seen {
			return nil, ErrInvalidBlockOrder
		}
		owned[id] = true
	}

	if err := s.store.ReorderBlocks(ctx, userID, ids); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidBlockOrder
		}
		return nil, fmt.Errorf("reorder blocks: %w", err)
	}
	return s.store.ListBlocksByUser(ctx, userID)
}

func (s *ProfileService) ownedBlock(ctx context.Context, userID, id string) (*domain.Block, error) {
	block, err := s.store.GetBlock(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("get block: %w", err)
	}
	if block.UserID != userID {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

func validateBlock(b *domain.Block) error {
	if !b.Type.Valid() {
		return ErrInvalidBlockType
	}
	if len(b.Title) > maxBlockTitleLength {
		return ErrBlockTitleTooLong
	}
	if b.Type == domain.BlockTypeLink {
		return domain.ValidateBlockURL(b.URL)
	}
	return nil
}

// ========== 点击统计 ==========

// ClickMeta 点击请求的来源信息
type ClickMeta struct {
	Referrer  string
	UserAgent string
	Host      string
}

// RecordClick 记录公开主页上的链接点击，返回跳转地址
func (s *ProfileService) RecordClick(ctx context.Context, username, blockID string, meta ClickMeta) (string, error) {
	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	block, err := s.ownedBlock(ctx, user.ID, blockID)
	if err != nil {
		return "", err
	}
	if block.Type != domain.BlockTypeLink || !block.IsVisible {
		return "", ErrBlockNotFound
	}

	click := &domain.BlockClick{
		ID:        uuid.NewString(),
		BlockID:   block.ID,
		UserID:    user.ID,
		Referrer:  truncate(meta.Referrer, 2048),
		UserAgent: truncate(meta.UserAgent, 512),
		Host:      truncate(meta.Host, 253),
	}
	if err := s.store.RecordClick(ctx, click); err != nil {
		// 统计失败不影响跳转
		s.log.Warn("record click failed", zap.String("block_id", block.ID), zap.Error(err))
		return block.URL, nil
	}

	if s.metrics != nil {
		s.metrics.RecordBlockClick()
	}
	return block.URL, nil
}

// Analytics 返回用户链接块的点击统计
func (s *ProfileService) Analytics(ctx context.Context, userID string) ([]domain.BlockStats, error) {
	stats, err := s.store.ClickStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("click stats: %w", err)
	}
	return stats, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
