package storage

import (
	"context"
	"errors"
	"time"

	"tinypm/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDomainExists 域名已被认领
	ErrDomainExists = errors.New("domain already exists")
	// ErrSubscriptionRequired 创建时没有有效订阅
	ErrSubscriptionRequired = errors.New("active subscription required")
	// ErrUsernameTaken 用户名已被占用
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailExists 邮箱已注册
	ErrEmailExists = errors.New("email already exists")
	// ErrCacheMiss 缓存中没有该键
	ErrCacheMiss = errors.New("cache miss")
)

// AttemptClaim 发起一次验证时观察到的记录状态
//
// 只有当存储中的 verification_attempts 与 last_attempt_at 仍等于观察值时，
// 本次验证才算成功占位（比较并交换）。
type AttemptClaim struct {
	ObservedAttempts      int
	ObservedLastAttemptAt *time.Time
	Now                   time.Time
	MaxAttempts           int
}

// CustomDomainRepository 定义自定义域名数据存取操作。
type CustomDomainRepository interface {
	CreateCustomDomain(ctx context.Context, record *domain.CustomDomain) error
	GetCustomDomain(ctx context.Context, id string) (*domain.CustomDomain, error)
	GetCustomDomainByDomain(ctx context.Context, name string) (*domain.CustomDomain, error)
	ListCustomDomainsByUser(ctx context.Context, userID string) ([]*domain.CustomDomain, error)
	BeginVerificationAttempt(ctx context.Context, id string, claim AttemptClaim) (bool, error)
	SaveVerificationResult(ctx context.Context, record *domain.CustomDomain) error
	DeleteCustomDomain(ctx context.Context, id, userID string) error
	FindActiveByHostname(ctx context.Context, hostname string) (*domain.ActiveRoute, error)
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByGoogleSubject(ctx context.Context, subject string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ClaimUsername(ctx context.Context, userID, username string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SubscriptionRepository 定义订阅数据存取操作。
type SubscriptionRepository interface {
	GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	SaveSubscription(ctx context.Context, sub *domain.Subscription) error
}

// BlockRepository 定义内容块数据存取操作。
type BlockRepository interface {
	CreateBlock(ctx context.Context, block *domain.Block) error
	GetBlock(ctx context.Context, id string) (*domain.Block, error)
	ListBlocksByUser(ctx context.Context, userID string) ([]*domain.Block, error)
	UpdateBlock(ctx context.Context, block *domain.Block) error
	DeleteBlock(ctx context.Context, id, userID string) error
	ReorderBlocks(ctx context.Context, userID string, orderedIDs []string) error
	RecordClick(ctx context.Context, click *domain.BlockClick) error
	ClickStats(ctx context.Context, userID string) ([]domain.BlockStats, error)
}

// RateLimitRepository 定义限流操作。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	CustomDomainRepository
	UserRepository
	SubscriptionRepository
	BlockRepository
	RateLimitRepository

	// 工具方法
	Health(ctx context.Context) error
	Close() error
}
