package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tinypm/backend/internal/cache"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/logger"
	"tinypm/backend/internal/storage"
)

// Options 存储连接参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	return o
}

// Store 基于 GORM 的存储实现，同时支持 PostgreSQL 和 MySQL
type Store struct {
	db     *gorm.DB
	routes RouteReader
	limits *cache.LocalCache
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// RouteReader 代理热路径上的域名查询
type RouteReader interface {
	LookupActiveRoute(ctx context.Context, hostname string) (*domain.ActiveRoute, error)
	Ping(ctx context.Context) error
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	var gl gormlogger.Interface = gormlogger.Default.LogMode(gormlogger.Silent)
	if opts.Logger != nil {
		gl = logger.NewGormLogger(opts.Logger, 200*time.Millisecond)
	}

	config := &gorm.Config{
		Logger:         gl,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db, limits: cache.NewLocalCache(0, time.Minute), now: time.Now}

	if opts.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Subscription{},
		&domain.CustomDomain{},
		&domain.Block{},
		&domain.BlockClick{},
	)
}

// IncrementRateLimit 进程内固定窗口计数；多实例共享窗口需要启用 Redis
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.limits.IncrementRateLimit(ctx, key, window)
}

// Drop 按依赖倒序删除全部表
func Drop(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&domain.BlockClick{},
		&domain.Block{},
		&domain.CustomDomain{},
		&domain.Subscription{},
		&domain.User{},
	)
}

// UseRouteReader 让 FindActiveByHostname 走独立的连接池
func (s *Store) UseRouteReader(r RouteReader) {
	s.routes = r
}

// DB 返回底层 GORM 实例
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Health 健康检查
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	if s.routes != nil {
		return s.routes.Ping(ctx)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if closer, ok := s.routes.(interface{ Close() }); ok {
		closer.Close()
	}
	return sqlDB.Close()
}

func (s *Store) withContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
