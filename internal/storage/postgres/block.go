package postgres

import (
	"context"

	"gorm.io/gorm"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// CreateBlock 创建内容块
func (s *Store) CreateBlock(ctx context.Context, block *domain.Block) error {
	return s.withContext(ctx).Create(block).Error
}

// GetBlock 根据 ID 获取内容块
func (s *Store) GetBlock(ctx context.Context, id string) (*domain.Block, error) {
	var block domain.Block
	if err := s.withContext(ctx).Where("id = ?", id).First(&block).Error; err != nil {
		return nil, translateError(err, err)
	}
	return &block, nil
}

// ListBlocksByUser 按位置升序列出用户的全部内容块
func (s *Store) ListBlocksByUser(ctx context.Context, userID string) ([]*domain.Block, error) {
	blocks := make([]*domain.Block, 0)
	err := s.withContext(ctx).
		Where("user_id = ?", userID).
		Order("position ASC, created_at ASC").
		Find(&blocks).Error
	return blocks, err
}

// UpdateBlock 更新内容块，点击数不受影响
func (s *Store) UpdateBlock(ctx context.Context, block *domain.Block) error {
	result := s.withContext(ctx).Model(&domain.Block{}).
		Where("id = ? AND user_id = ?", block.ID, block.UserID).
		Updates(map[string]interface{}{
			"type":       block.Type,
			"title":      block.Title,
			"url":        block.URL,
			"content":    block.Content,
			"is_visible": block.IsVisible,
			"updated_at": s.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBlock 删除内容块并压缩剩余块的位置
func (s *Store) DeleteBlock(ctx context.Context, id, userID string) error {
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Block{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrNotFound
		}

		var ids []string
		if err := tx.Model(&domain.Block{}).
			Where("user_id = ?", userID).
			Order("position ASC, created_at ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		return rewritePositions(tx, userID, ids)
	})
}

// ReorderBlocks 按给定顺序重写位置
func (s *Store) ReorderBlocks(ctx context.Context, userID string, orderedIDs []string) error {
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Block{}).
			Where("user_id = ? AND id IN ?", userID, orderedIDs).
			Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(orderedIDs) {
			return storage.ErrNotFound
		}
		return rewritePositions(tx, userID, orderedIDs)
	})
}

func rewritePositions(tx *gorm.DB, userID string, ids []string) error {
	for i, id := range ids {
		if err := tx.Model(&domain.Block{}).
			Where("id = ? AND user_id = ?", id, userID).
			UpdateColumn("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}

// RecordClick 记录点击并累加计数
func (s *Store) RecordClick(ctx context.Context, click *domain.BlockClick) error {
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Block{}).
			Where("id = ?", click.BlockID).
			UpdateColumn("clicks", gorm.Expr("clicks + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return tx.Create(click).Error
	})
}

// ClickStats 按位置顺序返回每个链接块的点击数
func (s *Store) ClickStats(ctx context.Context, userID string) ([]domain.BlockStats, error) {
	stats := make([]domain.BlockStats, 0)
	err := s.withContext(ctx).Model(&domain.Block{}).
		Select("id AS block_id, title, url, clicks").
		Where("user_id = ? AND type = ?", userID, domain.BlockTypeLink).
		Order("position ASC").
		Scan(&stats).Error
	return stats, err
}
