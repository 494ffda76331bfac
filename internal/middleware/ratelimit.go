package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/storage"
)

// ========== 单 IP 令牌桶 ==========

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 按客户端 IP 的令牌桶限流
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	metrics  *monitoring.Metrics
}

// NewIPRateLimiter 创建单 IP 限流器
func NewIPRateLimiter(rps float64, burst int, metrics *monitoring.Metrics) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		metrics:  metrics,
	}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow 当前 IP 是否还有令牌
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

// Cleanup 定期清理长时间不活跃的 IP，直到 ctx 结束
func (l *IPRateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *IPRateLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, ip)
		}
	}
}

// Middleware 返回 gin 中间件
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			if l.metrics != nil {
				l.metrics.RecordRateLimitBlock("ip")
			}
			c.Header("Retry-After", "1")
			abortTooManyRequests(c, 1)
			return
		}
		c.Next()
	}
}

// ========== 单用户固定窗口 ==========

// UserRateLimit 按用户的固定窗口限流，计数保存在存储层（Redis 或内存）
//
// 计数失败时放行，限流不可用不应阻断正常请求。
func UserRateLimit(counter storage.RateLimitRepository, name string, limit int, window time.Duration, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" || limit <= 0 {
			c.Next()
			return
		}

		count, err := counter.IncrementRateLimit(c.Request.Context(), name+":"+userID, window)
		if err != nil {
			log.Warn("rate limit counter unavailable", zap.String("limit", name), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			if metrics != nil {
				metrics.RecordRateLimitBlock(name)
			}
			seconds := int(window.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			abortTooManyRequests(c, seconds)
			return
		}
		c.Next()
	}
}

func abortTooManyRequests(c *gin.Context, retryAfter int) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":              http.StatusTooManyRequests,
		"msg":               "too many requests",
		"error":             "RATE_LIMITED",
		"retryAfterSeconds": retryAfter,
	})
}
