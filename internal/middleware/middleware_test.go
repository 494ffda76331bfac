package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newJWTManager() *jwt.Manager {
	return jwt.NewManager(strings.Repeat("m", 32), "tinypm", 15*time.Minute, time.Hour)
}

func TestJWTAuth_RequireAuth(t *testing.T) {
	manager := newJWTManager()
	auth := NewJWTAuth(manager, zap.NewNop())

	r := gin.New()
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	pair, err := manager.GenerateTokenPair("user-1", "alice@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
		body   string
	}{
		{"没有令牌", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"令牌无效", func(req *http.Request) { req.Header.Set("Authorization", "Bearer junk") }, http.StatusUnauthorized, ""},
		{"刷新令牌不能访问 API", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
		}, http.StatusUnauthorized, ""},
		{"请求头令牌", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}, http.StatusOK, "user-1"},
		{"Cookie 令牌", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: "access_token", Value: pair.AccessToken})
		}, http.StatusOK, "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"code":401`)
			}
		})
	}
}

func TestJWTAuth_OptionalAuth(t *testing.T) {
	manager := newJWTManager()
	auth := NewJWTAuth(manager, zap.NewNop())

	r := gin.New()
	r.GET("/ws", auth.OptionalAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, "user=%s", UserID(c))
	})

	pair, err := manager.GenerateTokenPair("user-1", "alice@example.com")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+pair.AccessToken, nil))
	assert.Equal(t, "user=user-1", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, "user=", rec.Body.String())
}

func TestIPRateLimiter(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	limiter := NewIPRateLimiter(0.001, 2, metrics)

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitBlocks.WithLabelValues("ip")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:4000"
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "buckets are per IP")

	limiter.idleTTL = 0
	limiter.evictIdle(time.Now().Add(time.Second))
	assert.Empty(t, limiter.visitors)
}

func TestUserRateLimit(t *testing.T) {
	store := memory.NewStore()

	r := gin.New()
	r.POST("/verify",
		func(c *gin.Context) { c.Set(ContextUserID, c.GetHeader("X-User")) },
		UserRateLimit(store, "verify", 2, time.Hour, nil, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("u1").Code)
	assert.Equal(t, http.StatusOK, send("u1").Code)

	blocked := send("u1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "3600", blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), `"retryAfterSeconds":3600`)

	assert.Equal(t, http.StatusOK, send("u2").Code)
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimit(8), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitoringMiddleware(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	mm := NewMonitoringMiddleware(metrics, zap.NewNop())

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics(), SecurityHeaders(), RequestLogger(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/ok", "200")))
}
