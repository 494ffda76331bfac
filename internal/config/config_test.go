package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.False(t, cfg.Server.TLSEnabled)
		assert.Equal(t, "tinypm.app", cfg.Platform.RootDomain)
		assert.Equal(t, "tinypm.app", cfg.Platform.CNAMETarget)
		assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Platform.DevHosts)
		assert.Equal(t, []string{"www", "api", "app"}, cfg.Platform.ReservedSubdomains)
		assert.False(t, cfg.Platform.SubdomainProfiles)
		assert.Equal(t, 5*time.Minute, cfg.Domains.Cooldown)
		assert.Equal(t, 5, cfg.Domains.MaxAttempts)
		assert.Equal(t, 5*time.Second, cfg.Domains.DNSTimeout)
		assert.Empty(t, cfg.Domains.Nameservers)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.UsesDatabase())
		assert.Equal(t, "tinypm", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.Equal(t, time.Hour, cfg.RateLimit.VerifyWindow)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", testSecret)
		t.Setenv("TINYPM_SERVER_PORT", "9090")
		t.Setenv("TINYPM_PLATFORM_ROOT_DOMAIN", " Links.Example.NET. ")
		t.Setenv("TINYPM_PLATFORM_CNAME_TARGET", "proxy.links.example.net")
		t.Setenv("TINYPM_PLATFORM_DEV_HOSTS", "localhost, dev.local")
		t.Setenv("TINYPM_DOMAINS_COOLDOWN", "30s")
		t.Setenv("TINYPM_DOMAINS_MAX_ATTEMPTS", "3")
		t.Setenv("TINYPM_DOMAINS_NAMESERVERS", "1.1.1.1:53,8.8.8.8:53")
		t.Setenv("TINYPM_DATABASE_TYPE", "Postgres")
		t.Setenv("TINYPM_DATABASE_DSN", "postgres://u:p@localhost/tinypm")
		t.Setenv("TINYPM_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "links.example.net", cfg.Platform.RootDomain)
		assert.Equal(t, "proxy.links.example.net", cfg.Platform.CNAMETarget)
		assert.Equal(t, []string{"localhost", "dev.local"}, cfg.Platform.DevHosts)
		assert.Equal(t, 30*time.Second, cfg.Domains.Cooldown)
		assert.Equal(t, 3, cfg.Domains.MaxAttempts)
		assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:53"}, cfg.Domains.Nameservers)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.True(t, cfg.UsesDatabase())
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("冷却时间格式错误失败", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", testSecret)
		t.Setenv("TINYPM_DOMAINS_COOLDOWN", "five minutes")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "domains.cooldown")
	})

	t.Run("不支持的数据库类型失败", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", testSecret)
		t.Setenv("TINYPM_DATABASE_TYPE", "oracle")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("JWT密钥太短失败", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", "short-key")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT secret must be at least 32 characters long")
	})

	t.Run("使用默认JWT密钥失败", func(t *testing.T) {
		t.Setenv("TINYPM_JWT_SECRET", "change-me-in-production")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT secret cannot be the default value")
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a , ,b,"))
	assert.Empty(t, parseList(""))
	assert.Equal(t, []string{"example.com"}, parseHosts("Example.COM."))
}
