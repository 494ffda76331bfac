package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code              int         `json:"code"`                        // HTTP 状态码
	Msg               string      `json:"msg"`                         // 提示信息
	Data              interface{} `json:"data,omitempty"`              // 数据载荷
	Error             string      `json:"error,omitempty"`             // 稳定的错误码，例如 COOLDOWN
	RetryAfterSeconds int         `json:"retryAfterSeconds,omitempty"` // 冷却或限流剩余秒数
}

// 错误码（与 domain.ErrorKind 并列的非域名错误）
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 通用提示信息
const (
	MsgInvalidRequest = "invalid request body"
	MsgAuthRequired   = "authentication required"
	MsgInternalError  = "internal server error, please try again later"
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Msg:  "ok",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Msg:  "created",
		Data: data,
	})
}

// Error 错误响应
func Error(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{
		Code:  status,
		Msg:   msg,
		Error: code,
	})
}

// ErrorWithRetry 带 Retry-After 的错误响应
func ErrorWithRetry(c *gin.Context, status int, code, msg string, retryAfter int) {
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	c.AbortWithStatusJSON(status, Response{
		Code:              status,
		Msg:               msg,
		Error:             code,
		RetryAfterSeconds: retryAfter,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, ErrCodeInvalidRequest, msg)
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	Error(c, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, ErrCodeNotFound, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, ErrCodeInternal, MsgInternalError)
}
