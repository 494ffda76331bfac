package domain

import (
	"math"
	"time"
)

// DomainStatus 自定义域名验证状态
type DomainStatus string

const (
	// DomainStatusPending 已认领，尚未发起验证
	DomainStatusPending DomainStatus = "PENDING"
	// DomainStatusDNSVerification 验证进行中（或最近一次验证已发起）
	DomainStatusDNSVerification DomainStatus = "DNS_VERIFICATION"
	// DomainStatusActive 验证通过，开始代理流量（终态）
	DomainStatusActive DomainStatus = "ACTIVE"
	// DomainStatusFailed 验证失败，在次数上限内可重试
	DomainStatusFailed DomainStatus = "FAILED"
)

// 验证状态机默认参数
const (
	DefaultMaxVerificationAttempts = 5
	DefaultVerificationCooldown    = 5 * time.Minute
)

// CustomDomain 用户认领的自定义域名
type CustomDomain struct {
	ID                   string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID               string       `json:"userId" gorm:"type:varchar(36);index;not null"`
	Domain               string       `json:"domain" gorm:"uniqueIndex;type:varchar(253);not null"`
	Status               DomainStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	VerificationCode     string       `json:"verificationCode" gorm:"uniqueIndex;type:varchar(64);not null"`
	CNAMETarget          string       `json:"cnameTarget" gorm:"column:cname_target;type:varchar(253);not null"`
	VerificationAttempts int          `json:"verificationAttempts" gorm:"not null;default:0"`
	LastAttemptAt        *time.Time   `json:"lastAttemptAt"`
	VerifiedAt           *time.Time   `json:"verifiedAt"`
	ErrorMessage         *string      `json:"errorMessage" gorm:"type:text"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// TableName 指定表名
func (CustomDomain) TableName() string {
	return "custom_domains"
}

// IsActive 是否已激活
func (d *CustomDomain) IsActive() bool {
	return d.Status == DomainStatusActive
}

// CooldownRemaining 返回距离下一次允许验证的剩余时间，0 表示可以立即验证
func (d *CustomDomain) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if d.LastAttemptAt == nil {
		return 0
	}
	elapsed := now.Sub(*d.LastAttemptAt)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

// SetError 记录最近一次失败原因
func (d *CustomDomain) SetError(msg string) {
	d.ErrorMessage = &msg
}

// ClearError 清除失败原因
func (d *CustomDomain) ClearError() {
	d.ErrorMessage = nil
}

// Clone 返回记录副本，避免调用方修改存储层持有的指针
func (d *CustomDomain) Clone() *CustomDomain {
	if d == nil {
		return nil
	}
	cp := *d
	if d.LastAttemptAt != nil {
		t := *d.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if d.VerifiedAt != nil {
		t := *d.VerifiedAt
		cp.VerifiedAt = &t
	}
	if d.ErrorMessage != nil {
		m := *d.ErrorMessage
		cp.ErrorMessage = &m
	}
	return &cp
}

// DNSInstructions 需要用户在 DNS 服务商处配置的记录
type DNSInstructions struct {
	Type  string `json:"type"`
	Host  string `json:"host"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// Instructions 生成 CNAME 配置说明
func (d *CustomDomain) Instructions() DNSInstructions {
	return DNSInstructions{
		Type:  "CNAME",
		Host:  d.Domain,
		Value: d.CNAMETarget,
		TTL:   300,
	}
}

// CustomDomainView 返回给仪表盘的域名视图
type CustomDomainView struct {
	*CustomDomain
	DNS                   DNSInstructions `json:"dns"`
	CooldownRemainingSecs int             `json:"cooldownRemainingSeconds"`
	AttemptsRemaining     int             `json:"attemptsRemaining"`
}

// NewCustomDomainView 构建仪表盘视图
func NewCustomDomainView(d *CustomDomain, now time.Time, cooldown time.Duration, maxAttempts int) *CustomDomainView {
	remaining := maxAttempts - d.VerificationAttempts
	if remaining < 0 {
		remaining = 0
	}
	return &CustomDomainView{
		CustomDomain:          d,
		DNS:                   d.Instructions(),
		CooldownRemainingSecs: CeilSeconds(d.CooldownRemaining(now, cooldown)),
		AttemptsRemaining:     remaining,
	}
}

// ActiveRoute 代理层使用的路由目标
type ActiveRoute struct {
	DomainID string `json:"domainId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// CeilSeconds 向上取整为秒
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
