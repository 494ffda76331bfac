package domain

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidDomainFormat = errors.New("invalid domain format")
	ErrDomainTooLong       = errors.New("domain too long (max 253 chars)")
	ErrUsernameTooShort    = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong     = errors.New("username too long (max 32 chars)")
	ErrInvalidUsername     = errors.New("invalid username format")
	ErrReservedUsername    = errors.New("username is reserved")
	ErrInvalidBlockURL     = errors.New("invalid block url")
)

// 验证常量
const (
	MaxDomainLength   = 253
	MaxLabelLength    = 63
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

var (
	// 主机名：若干以点分隔的标签，顶级域名至少两个字母
	hostnameRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,63}$`)

	// 用户名：小写字母开头，字母数字结尾
	usernameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*[a-z0-9]$`)
)

// reservedUsernames 与平台路由冲突或容易被冒用的用户名
var reservedUsernames = map[string]struct{}{
	"admin": {}, "api": {}, "app": {}, "assets": {}, "auth": {}, "billing": {},
	"dashboard": {}, "domains": {}, "health": {}, "help": {}, "login": {},
	"logout": {}, "me": {}, "metrics": {}, "settings": {}, "signup": {},
	"static": {}, "support": {}, "swagger": {}, "www": {}, "ws": {},
}

// NormalizeDomain 去除首尾空白与末尾的点，并转为小写
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimSuffix(d, ".")
}

// ValidateDomainName 校验已规范化的域名语法
func ValidateDomainName(domain string) error {
	if domain == "" {
		return ErrInvalidDomainFormat
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > MaxLabelLength {
			return ErrInvalidDomainFormat
		}
	}
	if !hostnameRegex.MatchString(domain) {
		return ErrInvalidDomainFormat
	}
	return nil
}

// IsReservedDomain 域名是否包含平台根域名
func IsReservedDomain(domain, rootDomain string) bool {
	rootDomain = NormalizeDomain(rootDomain)
	if rootDomain == "" {
		return false
	}
	return strings.Contains(domain, rootDomain)
}

// NormalizeUsername 用户名统一小写
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateUsername 验证用户名
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	if IsReservedUsername(username) {
		return ErrReservedUsername
	}
	return nil
}

// IsReservedUsername 是否为保留用户名
func IsReservedUsername(username string) bool {
	_, ok := reservedUsernames[strings.ToLower(username)]
	return ok
}

// ValidateBlockURL 链接块只允许 http/https 绝对地址
func ValidateBlockURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidBlockURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidBlockURL
	}
	if u.Host == "" {
		return ErrInvalidBlockURL
	}
	return nil
}
