package httptransport

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinypm/backend/internal/auth"
	"tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/service"
	"tinypm/backend/internal/storage"
)

// domainErrorStatus 域名错误类别到 HTTP 状态码的映射
//
// 新增 ErrorKind 时必须在这里补充分支，TestDomainErrorStatus 会检查全部类别。
func domainErrorStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindInvalidFormat,
		domain.ErrKindReservedDomain,
		domain.ErrKindAlreadyExists,
		domain.ErrKindCooldown,
		domain.ErrKindMaxAttempts,
		domain.ErrKindDNSError,
		domain.ErrKindInvalidCNAME:
		return http.StatusBadRequest
	case domain.ErrKindSubscriptionRequired:
		return http.StatusForbidden
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	default:
		return 0
	}
}

// sentinelError 非域名的业务错误
type sentinelError struct {
	err    error
	status int
	code   string
}

var sentinelErrors = []sentinelError{
	// 认证
	{auth.ErrOAuthNotConfigured, http.StatusServiceUnavailable, "OAUTH_NOT_CONFIGURED"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeUnauthorized},
	{auth.ErrEmailNotVerified, http.StatusForbidden, "EMAIL_NOT_VERIFIED"},
	{auth.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{jwt.ErrExpiredToken, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{jwt.ErrInvalidToken, http.StatusUnauthorized, ErrCodeUnauthorized},
	{jwt.ErrWrongTokenType, http.StatusUnauthorized, ErrCodeUnauthorized},

	// 用户名
	{domain.ErrUsernameTooShort, http.StatusBadRequest, "INVALID_USERNAME"},
	{domain.ErrUsernameTooLong, http.StatusBadRequest, "INVALID_USERNAME"},
	{domain.ErrInvalidUsername, http.StatusBadRequest, "INVALID_USERNAME"},
	{domain.ErrReservedUsername, http.StatusBadRequest, "RESERVED_USERNAME"},
	{storage.ErrUsernameTaken, http.StatusConflict, "USERNAME_TAKEN"},

	// 主页与内容块
	{service.ErrProfileNotFound, http.StatusNotFound, "PROFILE_NOT_FOUND"},
	{service.ErrBlockNotFound, http.StatusNotFound, "BLOCK_NOT_FOUND"},
	{service.ErrInvalidBlockType, http.StatusBadRequest, "INVALID_BLOCK"},
	{service.ErrInvalidBlockOrder, http.StatusBadRequest, "INVALID_BLOCK_ORDER"},
	{service.ErrBlockTitleTooLong, http.StatusBadRequest, "INVALID_BLOCK"},
	{domain.ErrInvalidBlockURL, http.StatusBadRequest, "INVALID_BLOCK"},
}

// respondError 把业务错误写成统一的错误响应
//
// 已知错误返回 4xx 与稳定的错误码；其他错误记录日志、上报 Sentry，并返回不含内部细节的 500。
func respondError(c *gin.Context, log *zap.Logger, err error) {
	if de, ok := domain.AsDomainError(err); ok {
		if status := domainErrorStatus(de.Kind); status != 0 {
			ErrorWithRetry(c, status, string(de.Kind), de.Message, de.RemainingSeconds())
			return
		}
	}

	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			Error(c, s.status, s.code, s.err.Error())
			return
		}
	}

	log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}

	_ = c.Error(err)
	InternalError(c)
}
