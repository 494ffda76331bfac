package memory

import (
	"context"
	"sort"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// CreateBlock 创建内容块
func (s *Store) CreateBlock(_ context.Context, block *domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now

	cp := *block
	s.blocks[block.ID] = &cp
	if s.blocksByUser[block.UserID] == nil {
		s.blocksByUser[block.UserID] = make(map[string]struct{})
	}
	s.blocksByUser[block.UserID][block.ID] = struct{}{}
	return nil
}

// GetBlock 根据 ID 获取内容块
func (s *Store) GetBlock(_ context.Context, id string) (*domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.blocks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *block
	return &cp, nil
}

// ListBlocksByUser 按位置升序列出用户的全部内容块
func (s *Store) ListBlocksByUser(_ context.Context, userID string) ([]*domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBlocksLocked(userID), nil
}

func (s *Store) listBlocksLocked(userID string) []*domain.Block {
	result := make([]*domain.Block, 0, len(s.blocksByUser[userID]))
	for id := range s.blocksByUser[userID] {
		cp := *s.blocks[id]
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position == result[j].Position {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Position < result[j].Position
	})
	return result
}

// UpdateBlock 更新内容块
func (s *Store) UpdateBlock(_ context.Context, block *domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.blocks[block.ID]
	if !ok || existing.UserID != block.UserID {
		return storage.ErrNotFound
	}

	block.UpdatedAt = s.now().UTC()
	cp := *block
	cp.Clicks = existing.Clicks
	cp.CreatedAt = existing.CreatedAt
	s.blocks[block.ID] = &cp
	return nil
}

// DeleteBlock 删除内容块并压缩剩余块的位置
func (s *Store) DeleteBlock(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.blocks[id]
	if !ok || block.UserID != userID {
		return storage.ErrNotFound
	}

	delete(s.blocks, id)
	delete(s.blocksByUser[userID], id)

	for i, b := range s.listBlocksLocked(userID) {
		s.blocks[b.ID].Position = i
	}
	return nil
}

// ReorderBlocks 按给定顺序重写位置，ID 必须全部属于该用户
func (s *Store) ReorderBlocks(_ context.Context, userID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.blocksByUser[userID]
	for _, id := range orderedIDs {
		if _, ok := owned[id]; !ok {
			return storage.ErrNotFound
		}
	}

	now := s.now().UTC()
	for i, id := range orderedIDs {
		s.blocks[id].Position = i
		s.blocks[id].UpdatedAt = now
	}
	return nil
}

// RecordClick 记录点击并累加计数
func (s *Store) RecordClick(_ context.Context, click *domain.BlockClick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.blocks[click.BlockID]
	if !ok {
		return storage.ErrNotFound
	}
	block.Clicks++

	if click.CreatedAt.IsZero() {
		click.CreatedAt = s.now().UTC()
	}
	cp := *click
	s.clicks = append(s.clicks, &cp)
	return nil
}

// ClickStats 按位置顺序返回每个链接块的点击数
func (s *Store) ClickStats(_ context.Context, userID string) ([]domain.BlockStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]domain.BlockStats, 0)
	for _, b := range s.listBlocksLocked(userID) {
		if b.Type != domain.BlockTypeLink {
			continue
		}
		stats = append(stats, domain.BlockStats{
			BlockID: b.ID,
			Title:   b.Title,
			URL:     b.URL,
			Clicks:  b.Clicks,
		})
	}
	return stats, nil
}
