package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"tinypm/backend/internal/auth"
	jwtpkg "tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/config"
	"tinypm/backend/internal/health"
	"tinypm/backend/internal/middleware"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/service"
	"tinypm/backend/internal/storage"
	"tinypm/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	DomainService  *service.CustomDomainService
	RoutingService *service.RoutingService
	ProfileService *service.ProfileService
	AuthService    *auth.Service
	JWTManager     *jwtpkg.Manager
	WebSocketHub   *websocket.Hub              // 可选
	RateLimits     storage.RateLimitRepository // 单用户验证限流计数
	IPLimiter      *middleware.IPRateLimiter   // 可选
	Metrics        *monitoring.Metrics         // 可选
	Health         *health.Checker             // 可选
	Logger         *zap.Logger
}

// NewHandler 返回完整的 HTTP 入口：外层按 Host 改写，内层是 gin 路由
func NewHandler(deps RouterDependencies) http.Handler {
	return NewHostRouter(deps.RoutingService, NewRouter(deps), deps.Metrics, deps.Logger)
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	router := gin.New()

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.PanicRecovery())
		router.Use(mm.HTTPMetrics())
	} else {
		router.Use(gin.Recovery())
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "route not found")
	})

	// ========== Ops Routes ==========
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			report := deps.Health.Report(c.Request.Context())
			status := http.StatusOK
			if report.Status == health.StatusUnhealthy {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("")
	if deps.IPLimiter != nil {
		api.Use(deps.IPLimiter.Middleware())
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
	authHandler := NewAuthHandler(deps.AuthService, deps.Config.OAuth.SuccessRedirectURL, deps.Config.Server.TLSEnabled, log)
	domainHandler := NewDomainHandler(deps.DomainService, deps.RoutingService, log)
	profileHandler := NewProfileHandler(deps.ProfileService, log)

	// ========== Auth Routes ==========
	authRoutes := api.Group("/auth")
	{
		authRoutes.GET("/google/login", authHandler.GoogleLogin)
		authRoutes.GET("/google/callback", authHandler.GoogleCallback)
		authRoutes.POST("/refresh", authHandler.Refresh)
		authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
	}

	// ========== Domain Routes ==========
	api.GET("/domains/verify", domainHandler.CheckHost) // 反向代理询问，无需认证

	verifyLimit := middleware.UserRateLimit(
		deps.RateLimits,
		"verify",
		deps.Config.RateLimit.VerifyPerWindow,
		deps.Config.RateLimit.VerifyWindow,
		deps.Metrics,
		log,
	)

	domainRoutes := api.Group("/domains")
	domainRoutes.Use(jwtAuth.RequireAuth())
	{
		domainRoutes.POST("", domainHandler.AddDomain)
		domainRoutes.GET("", domainHandler.ListDomains)
		domainRoutes.GET("/:id", domainHandler.GetDomain)
		domainRoutes.DELETE("/:id", domainHandler.DeleteDomain)
		domainRoutes.POST("/:id/verify", verifyLimit, domainHandler.VerifyDomain)
	}

	// ========== Profile Routes ==========
	meRoutes := api.Group("/me")
	meRoutes.Use(jwtAuth.RequireAuth())
	{
		meRoutes.PATCH("", authHandler.UpdateMe)
		meRoutes.PUT("/username", profileHandler.ClaimUsername)
		meRoutes.GET("/blocks", profileHandler.ListBlocks)
		meRoutes.POST("/blocks", profileHandler.CreateBlock)
		meRoutes.PUT("/blocks/order", profileHandler.ReorderBlocks)
		meRoutes.PATCH("/blocks/:id", profileHandler.UpdateBlock)
		meRoutes.DELETE("/blocks/:id", profileHandler.DeleteBlock)
		meRoutes.GET("/analytics", profileHandler.Analytics)
	}

	// ========== WebSocket Routes ==========
	if deps.WebSocketHub != nil {
		api.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	// ========== Public Profile Routes ==========
	// 自定义域名请求经 HostRouter 改写后落到这里
	api.GET("/:username", profileHandler.PublicProfile)
	api.GET("/:username/go/:blockId", profileHandler.FollowLink)

	return router
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}

	// 允许所有来源时不能携带凭证
	cfg.AllowCredentials = true
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
