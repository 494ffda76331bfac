package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP/HTTPS 监听参数
type ServerConfig struct {
	Host         string // 监听地址，默认 "0.0.0.0"
	Port         int    // HTTP 端口，默认 8080
	TLSEnabled   bool   // 是否为自定义域名自动签发证书
	TLSPort      int    // HTTPS 端口，默认 8443
	CertCacheDir string // ACME 证书缓存目录
	ACMEEmail    string // ACME 账户邮箱
}

// PlatformConfig 定义平台自身的域名信息
type PlatformConfig struct {
	RootDomain         string   // 平台根域名，如 "tinypm.app"
	CNAMETarget        string   // 自定义域名 CNAME 需要指向的主机名
	DevHosts           []string // 开发环境允许直接访问的主机
	ReservedSubdomains []string // 不作为用户名解析的子域名
	SubdomainProfiles  bool     // 是否把 {username}.{root} 改写到个人主页
}

// DomainsConfig 定义自定义域名验证参数
type DomainsConfig struct {
	Cooldown    time.Duration // 两次验证之间的最小间隔
	MaxAttempts int           // 最大验证次数
	DNSTimeout  time.Duration // 单次 DNS 查询超时
	Nameservers []string      // 指定 DNS 服务器，留空使用系统解析器
	RouteTTL    time.Duration // 路由缓存有效期
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 路由缓存与限流
	Address  string // Redis 服务地址，格式 "host:port"
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "tinypm"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// OAuthConfig 定义 Google 登录配置
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	SuccessRedirectURL string // 登录成功后跳转的前端地址
}

// BillingConfig 计费服务凭据（仅透传给外部计费服务）
type BillingConfig struct {
	ProviderSecretKey string
	WebhookSecret     string
}

// SentryConfig 错误上报配置
type SentryConfig struct {
	DSN         string
	Environment string
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond float64       // 单 IP 每秒请求数
	Burst             int           // 单 IP 突发请求数
	VerifyPerWindow   int           // 单用户在窗口内最多触发的验证请求数
	VerifyWindow      time.Duration // 验证限流窗口
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Platform  PlatformConfig
	Domains   DomainsConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OAuth     OAuthConfig
	Billing   BillingConfig
	Sentry    SentryConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TINYPM_
// 例如: TINYPM_PLATFORM_ROOT_DOMAIN, TINYPM_JWT_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tinypm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return build(v)
}

// setDefaults 注册所有配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.tls_port", 8443)
	v.SetDefault("server.cert_cache_dir", "./data/certs")
	v.SetDefault("server.acme_email", "")
	v.SetDefault("platform.root_domain", "tinypm.app")
	v.SetDefault("platform.cname_target", "")
	v.SetDefault("platform.dev_hosts", "localhost,127.0.0.1")
	v.SetDefault("platform.reserved_subdomains", "www,api,app")
	v.SetDefault("platform.subdomain_profiles", false)
	v.SetDefault("domains.cooldown", "5m")
	v.SetDefault("domains.max_attempts", 5)
	v.SetDefault("domains.dns_timeout", "5s")
	v.SetDefault("domains.nameservers", "")
	v.SetDefault("domains.route_ttl", "5m")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "tinypm")
	v.SetDefault("jwt.access_expiry", "15m")
	v.SetDefault("jwt.refresh_expiry", "168h")
	v.SetDefault("oauth.google_client_id", "")
	v.SetDefault("oauth.google_client_secret", "")
	v.SetDefault("oauth.google_redirect_url", "http://localhost:8080/auth/google/callback")
	v.SetDefault("oauth.success_redirect_url", "http://localhost:3000/dashboard")
	v.SetDefault("billing.provider_secret_key", "")
	v.SetDefault("billing.webhook_secret", "")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ratelimit.verify_per_window", 12)
	v.SetDefault("ratelimit.verify_window", "1h")
}

func build(v *viper.Viper) (*Config, error) {
	rootDomain := normalizeHost(v.GetString("platform.root_domain"))
	if rootDomain == "" {
		return nil, fmt.Errorf("platform.root_domain must not be empty")
	}

	cnameTarget := normalizeHost(v.GetString("platform.cname_target"))
	if cnameTarget == "" {
		cnameTarget = rootDomain
	}

	cooldown, err := time.ParseDuration(v.GetString("domains.cooldown"))
	if err != nil {
		return nil, fmt.Errorf("invalid domains.cooldown: %w", err)
	}

	maxAttempts := v.GetInt("domains.max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	dnsTimeout, err := time.ParseDuration(v.GetString("domains.dns_timeout"))
	if err != nil || dnsTimeout <= 0 {
		dnsTimeout = 5 * time.Second
	}

	routeTTL, err := time.ParseDuration(v.GetString("domains.route_ttl"))
	if err != nil {
		routeTTL = 5 * time.Minute
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(v.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(v.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	verifyWindow, err := time.ParseDuration(v.GetString("ratelimit.verify_window"))
	if err != nil {
		verifyWindow = time.Hour
	}

	jwtSecret := v.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set TINYPM_JWT_SECRET environment variable")
	}

	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	switch dbType {
	case "", "postgres", "postgresql", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres)", dbType)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			TLSEnabled:   v.GetBool("server.tls_enabled"),
			TLSPort:      v.GetInt("server.tls_port"),
			CertCacheDir: v.GetString("server.cert_cache_dir"),
			ACMEEmail:    v.GetString("server.acme_email"),
		},
		Platform: PlatformConfig{
			RootDomain:         rootDomain,
			CNAMETarget:        cnameTarget,
			DevHosts:           parseHosts(v.GetString("platform.dev_hosts")),
			ReservedSubdomains: parseHosts(v.GetString("platform.reserved_subdomains")),
			SubdomainProfiles:  v.GetBool("platform.subdomain_profiles"),
		},
		Domains: DomainsConfig{
			Cooldown:    cooldown,
			MaxAttempts: maxAttempts,
			DNSTimeout:  dnsTimeout,
			Nameservers: parseList(v.GetString("domains.nameservers")),
			RouteTTL:    routeTTL,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        v.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
		},
		OAuth: OAuthConfig{
			GoogleClientID:     v.GetString("oauth.google_client_id"),
			GoogleClientSecret: v.GetString("oauth.google_client_secret"),
			GoogleRedirectURL:  v.GetString("oauth.google_redirect_url"),
			SuccessRedirectURL: v.GetString("oauth.success_redirect_url"),
		},
		Billing: BillingConfig{
			ProviderSecretKey: v.GetString("billing.provider_secret_key"),
			WebhookSecret:     v.GetString("billing.webhook_secret"),
		},
		Sentry: SentryConfig{
			DSN:         v.GetString("sentry.dsn"),
			Environment: v.GetString("sentry.environment"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("ratelimit.rps"),
			Burst:             v.GetInt("ratelimit.burst"),
			VerifyPerWindow:   v.GetInt("ratelimit.verify_per_window"),
			VerifyWindow:      verifyWindow,
		},
	}

	return cfg, nil
}

// UsesDatabase 是否配置了持久化数据库
func (c *Config) UsesDatabase() bool {
	return c.Database.Type != "" && c.Database.DSN != ""
}

// normalizeHost 主机名统一小写并去掉末尾的点
func normalizeHost(value string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), ".")
}

// parseHosts 将逗号分隔的主机名解析为小写数组
func parseHosts(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = normalizeHost(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
