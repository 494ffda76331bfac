package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDomainName(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		expected error
	}{
		{"Valid apex", "example.com", nil},
		{"Valid subdomain", "links.example.com", nil},
		{"Valid hyphenated label", "my-links.example.co.uk", nil},
		{"Valid numeric label", "123.example.io", nil},
		{"Invalid - empty", "", ErrInvalidDomainFormat},
		{"Invalid - single label", "localhost", ErrInvalidDomainFormat},
		{"Invalid - one letter tld", "example.c", ErrInvalidDomainFormat},
		{"Invalid - numeric tld", "example.123", ErrInvalidDomainFormat},
		{"Invalid - leading hyphen", "-bad.example.com", ErrInvalidDomainFormat},
		{"Invalid - trailing hyphen", "bad-.example.com", ErrInvalidDomainFormat},
		{"Invalid - empty label", "bad..example.com", ErrInvalidDomainFormat},
		{"Invalid - underscore", "bad_label.example.com", ErrInvalidDomainFormat},
		{"Invalid - scheme", "https://example.com", ErrInvalidDomainFormat},
		{"Invalid - label too long", strings.Repeat("a", 64) + ".com", ErrInvalidDomainFormat},
		{"Invalid - too long", strings.Repeat("a.", 127) + "com", ErrDomainTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateDomainName(tt.domain))
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "links.example.com", NormalizeDomain("  Links.Example.COM.  "))
	assert.Equal(t, "", NormalizeDomain("   "))
}

func TestIsReservedDomain(t *testing.T) {
	tests := []struct {
		domain   string
		expected bool
	}{
		{"tinypm.app", true},
		{"alice.tinypm.app", true},
		{"tinypm.app.evil.com", true},
		{"links.example.com", false},
		{"tinypm.io", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsReservedDomain(tt.domain, "TinyPM.app"))
		})
	}

	assert.False(t, IsReservedDomain("example.com", ""))
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		expected error
	}{
		{"Valid username", "alice", nil},
		{"Valid with digits", "alice42", nil},
		{"Valid with dash and underscore", "al_ice-x", nil},
		{"Valid maximum length", "a" + strings.Repeat("b", 31), nil},
		{"Invalid - too short", "ab", ErrUsernameTooShort},
		{"Invalid - too long", "a" + strings.Repeat("b", 32), ErrUsernameTooLong},
		{"Invalid - starts with digit", "1alice", ErrInvalidUsername},
		{"Invalid - ends with dash", "alice-", ErrInvalidUsername},
		{"Invalid - uppercase", "Alice", ErrInvalidUsername},
		{"Invalid - dot", "ali.ce", ErrInvalidUsername},
		{"Reserved - domains", "domains", ErrReservedUsername},
		{"Reserved - metrics", "metrics", ErrReservedUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateUsername(tt.username))
		})
	}
}

func TestValidateBlockURL(t *testing.T) {
	assert.NoError(t, ValidateBlockURL("https://example.com/a?b=c"))
	assert.NoError(t, ValidateBlockURL("http://example.com"))
	assert.Equal(t, ErrInvalidBlockURL, ValidateBlockURL("javascript:alert(1)"))
	assert.Equal(t, ErrInvalidBlockURL, ValidateBlockURL("/relative"))
	assert.Equal(t, ErrInvalidBlockURL, ValidateBlockURL("ftp://example.com"))
}

func TestCustomDomain_CooldownRemaining(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d := &CustomDomain{}

	assert.Equal(t, time.Duration(0), d.CooldownRemaining(now, 5*time.Minute))

	last := now.Add(-2 * time.Minute)
	d.LastAttemptAt = &last
	assert.Equal(t, 3*time.Minute, d.CooldownRemaining(now, 5*time.Minute))

	last = now.Add(-5 * time.Minute)
	assert.Equal(t, time.Duration(0), d.CooldownRemaining(now, 5*time.Minute))
}

func TestCooldownError_RemainingSeconds(t *testing.T) {
	err := NewCooldownError(90*time.Second + time.Millisecond)
	assert.Equal(t, ErrKindCooldown, err.Kind)
	assert.Equal(t, 91, err.RemainingSeconds())
	assert.True(t, IsKind(err, ErrKindCooldown))
	assert.False(t, IsKind(err, ErrKindMaxAttempts))
}

func TestSubscription_IsActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Subscription{Status: SubscriptionActive}).IsActive(now))
	assert.True(t, (&Subscription{Status: SubscriptionTrialing, CurrentPeriodEnd: &future}).IsActive(now))
	assert.False(t, (&Subscription{Status: SubscriptionActive, CurrentPeriodEnd: &past}).IsActive(now))
	assert.False(t, (&Subscription{Status: SubscriptionCanceled}).IsActive(now))
	assert.False(t, (*Subscription)(nil).IsActive(now))
}
