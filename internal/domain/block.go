package domain

import "time"

// BlockType 内容块类型
type BlockType string

const (
	BlockTypeLink    BlockType = "link"
	BlockTypeTitle   BlockType = "title"
	BlockTypeText    BlockType = "text"
	BlockTypeDivider BlockType = "divider"
)

// Valid 是否为支持的类型
func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeLink, BlockTypeTitle, BlockTypeText, BlockTypeDivider:
		return true
	}
	return false
}

// Block 个人主页上的一个内容块，按 Position 升序展示
type Block struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index:idx_blocks_user_position,priority:1;not null"`
	Type      BlockType `json:"type" gorm:"type:varchar(20);not null"`
	Title     string    `json:"title,omitempty" gorm:"type:varchar(200)"`
	URL       string    `json:"url,omitempty" gorm:"type:varchar(2048)"`
	Content   string    `json:"content,omitempty" gorm:"type:text"`
	Position  int       `json:"position" gorm:"index:idx_blocks_user_position,priority:2;not null"`
	IsVisible bool      `json:"isVisible" gorm:"not null"`
	Clicks    int64     `json:"clicks" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Block) TableName() string {
	return "blocks"
}

// BlockClick 一次链接点击
type BlockClick struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BlockID   string    `json:"blockId" gorm:"type:varchar(36);index;not null"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	Referrer  string    `json:"referrer,omitempty" gorm:"type:varchar(2048)"`
	UserAgent string    `json:"userAgent,omitempty" gorm:"type:varchar(512)"`
	Host      string    `json:"host,omitempty" gorm:"type:varchar(253)"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (BlockClick) TableName() string {
	return "block_clicks"
}

// BlockStats 单个内容块的点击统计
type BlockStats struct {
	BlockID string `json:"blockId"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Clicks  int64  `json:"clicks"`
}

// PublicProfile 公开主页数据
type PublicProfile struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Blocks      []*Block `json:"blocks"`
}
