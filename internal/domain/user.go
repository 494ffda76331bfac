package domain

import "time"

// User 平台用户，通过 Google 登录创建
//
// Username 在用户认领前为空；为了让唯一索引允许多个未认领用户，使用指针存储。
type User struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email         string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Username      *string    `json:"username,omitempty" gorm:"uniqueIndex;type:varchar(32)"`
	DisplayName   string     `json:"displayName" gorm:"type:varchar(100)"`
	AvatarURL     string     `json:"avatarUrl,omitempty" gorm:"type:varchar(512)"`
	Bio           string     `json:"bio,omitempty" gorm:"type:text"`
	GoogleSubject *string    `json:"-" gorm:"uniqueIndex;type:varchar(255)"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// UsernameValue 返回用户名，未认领时为空字符串
func (u *User) UsernameValue() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

// SubscriptionStatus 订阅状态，由计费服务同步
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// Subscription 用户订阅
type Subscription struct {
	ID                     string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID                 string             `json:"userId" gorm:"uniqueIndex;type:varchar(36);not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	Plan                   string             `json:"plan" gorm:"type:varchar(50)"`
	ProviderCustomerID     string             `json:"-" gorm:"type:varchar(255)"`
	ProviderSubscriptionID string             `json:"-" gorm:"type:varchar(255)"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive 订阅在 now 时刻是否有效
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrialing {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}
