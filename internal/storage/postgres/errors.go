package postgres

import (
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"tinypm/backend/internal/storage"
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// isUniqueViolation 判断是否为唯一约束冲突
//
// 开启 TranslateError 后 GORM 会返回 gorm.ErrDuplicatedKey，
// 这里仍然识别驱动原始错误，兼容直接通过连接池执行的语句。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return false
}

// translateError 把驱动错误映射为存储层错误
func translateError(err error, onConflict error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return storage.ErrNotFound
	case isUniqueViolation(err):
		return onConflict
	default:
		return err
	}
}
