package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 自定义域名流程的错误类别
type ErrorKind string

const (
	ErrKindInvalidFormat        ErrorKind = "INVALID_FORMAT"
	ErrKindReservedDomain       ErrorKind = "RESERVED_DOMAIN"
	ErrKindAlreadyExists        ErrorKind = "ALREADY_EXISTS"
	ErrKindSubscriptionRequired ErrorKind = "SUBSCRIPTION_REQUIRED"
	ErrKindNotFound             ErrorKind = "NOT_FOUND"
	ErrKindCooldown             ErrorKind = "COOLDOWN"
	ErrKindMaxAttempts          ErrorKind = "MAX_ATTEMPTS"
	ErrKindDNSError             ErrorKind = "DNS_ERROR"
	ErrKindInvalidCNAME         ErrorKind = "INVALID_CNAME"
)

// ErrorKinds 返回全部错误类别
func ErrorKinds() []ErrorKind {
	return []ErrorKind{
		ErrKindInvalidFormat,
		ErrKindReservedDomain,
		ErrKindAlreadyExists,
		ErrKindSubscriptionRequired,
		ErrKindNotFound,
		ErrKindCooldown,
		ErrKindMaxAttempts,
		ErrKindDNSError,
		ErrKindInvalidCNAME,
	}
}

// DomainError 带类别标签的业务错误
//
// RetryAfter 仅在 COOLDOWN 时有值，Err 保存底层原因（例如 DNS 解析错误）。
type DomainError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error 实现 error 接口
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *DomainError) Unwrap() error {
	return e.Err
}

// RemainingSeconds 冷却剩余秒数（向上取整）
func (e *DomainError) RemainingSeconds() int {
	return CeilSeconds(e.RetryAfter)
}

// NewDomainError 创建业务错误
func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// WrapDomainError 创建包装底层错误的业务错误
func WrapDomainError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

// NewCooldownError 创建冷却错误
func NewCooldownError(remaining time.Duration) *DomainError {
	return &DomainError{
		Kind:       ErrKindCooldown,
		Message:    fmt.Sprintf("please wait %d seconds before verifying again", CeilSeconds(remaining)),
		RetryAfter: remaining,
	}
}

// AsDomainError 从错误链中提取 DomainError
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind ErrorKind) bool {
	de, ok := AsDomainError(err)
	return ok && de.Kind == kind
}
