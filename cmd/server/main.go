package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"tinypm/backend/internal/auth"
	"tinypm/backend/internal/cache"
	jwtpkg "tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/config"
	"tinypm/backend/internal/dnscheck"
	"tinypm/backend/internal/health"
	"tinypm/backend/internal/logger"
	"tinypm/backend/internal/middleware"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/service"
	"tinypm/backend/internal/storage"
	"tinypm/backend/internal/storage/hybrid"
	"tinypm/backend/internal/storage/memory"
	"tinypm/backend/internal/storage/postgres"
	"tinypm/backend/internal/storage/redis"
	httptransport "tinypm/backend/internal/transport/http"
	"tinypm/backend/internal/websocket"
)

const version = "0.4.0"

// main 启动 TinyPM API、主机名代理与（可选的）自动证书 HTTPS 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tinypm server",
		zap.String("version", version),
		zap.String("root_domain", cfg.Platform.RootDomain),
		zap.String("cname_target", cfg.Platform.CNAMETarget),
		zap.Bool("development", cfg.Log.Development),
	)

	// 错误上报（未配置 DSN 时 sentry 的调用都是空操作）
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "tinypm@" + version,
		}); err != nil {
			log.Warn("failed to initialize sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry initialized", zap.String("environment", cfg.Sentry.Environment))
		}
	}

	if cfg.Billing.ProviderSecretKey == "" {
		log.Warn("billing provider not configured, subscriptions must be seeded manually (cmd/seed-user)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, localCache, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("store close error", zap.Error(err))
		}
	}()

	// 监控
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)
	healthChecker := health.NewChecker(store, log, version, cfg.Sentry.Environment)

	// 认证
	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)

	var provider auth.IdentityProvider
	if google, err := auth.NewGoogleProvider(&cfg.OAuth); err != nil {
		log.Warn("google login disabled", zap.Error(err))
	} else {
		provider = google
	}
	authService := auth.NewService(store, provider, jwtManager, log)
	authService.SetMetrics(metrics)

	// 服务层
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)
	wsHub.SetMetrics(metrics)

	verifier := dnscheck.NewVerifier(dnscheck.Config{
		Nameservers: cfg.Domains.Nameservers,
		Timeout:     cfg.Domains.DNSTimeout,
	}, log)

	domainService := service.NewCustomDomainService(store, verifier, cfg, log)
	domainService.SetMetrics(metrics)
	domainService.SetEventPublisher(wsHub)

	routingService := service.NewRoutingService(store, cfg, log)

	profileService := service.NewProfileService(store, cfg, log)
	profileService.SetMetrics(metrics)

	ipLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, metrics)

	handler := httptransport.NewHandler(httptransport.RouterDependencies{
		Config:         cfg,
		DomainService:  domainService,
		RoutingService: routingService,
		ProfileService: profileService,
		AuthService:    authService,
		JWTManager:     jwtManager,
		WebSocketHub:   wsHub,
		RateLimits:     store,
		IPLimiter:      ipLimiter,
		Metrics:        metrics,
		Health:         healthChecker,
		Logger:         log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := newServer(httpAddr, handler)

	// 自定义域名证书：只为已激活的域名与平台自身的主机签发
	var tlsServer *http.Server
	if cfg.Server.TLSEnabled {
		certManager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.Server.CertCacheDir),
			HostPolicy: routingService.HostPolicy(),
			Email:      cfg.Server.ACMEEmail,
		}
		httpServer.Handler = certManager.HTTPHandler(handler)

		tlsServer = newServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort), handler)
		tlsServer.TLSConfig = certManager.TLSConfig()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if tlsServer != nil {
		group.Go(func() error {
			log.Info("starting HTTPS server", zap.String("address", tlsServer.Addr))
			if err := tlsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("https server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		ipLimiter.Cleanup(groupCtx, time.Minute)
		return nil
	})

	if localCache != nil {
		group.Go(func() error {
			localCache.Cleanup(groupCtx, time.Minute)
			return nil
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if tlsServer != nil {
			if err := tlsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTPS server shutdown error", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// initializeStorage 按配置组装存储层
//
// 未配置数据库时使用内存存储；PostgreSQL 额外使用 pgx 连接池处理代理路径上的域名查询；
// 数据库外层包一层路由缓存：启用 Redis 时用 Redis（多实例共享），否则用进程内缓存。
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, *cache.LocalCache, error) {
	var store storage.Store

	switch cfg.Database.Type {
	case "":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil, nil

	case "postgres", "postgresql", "mysql":
		opts := postgres.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			AutoMigrate:     cfg.Log.Development,
			Logger:          log,
		}

		if cfg.Database.Type == "mysql" {
			db, err := postgres.NewMySQLStore(cfg.Database.DSN, opts)
			if err != nil {
				return nil, nil, err
			}
			store = db
			break
		}

		db, err := postgres.NewStore(cfg.Database.DSN, opts)
		if err != nil {
			return nil, nil, err
		}
		routes, err := postgres.NewClient(ctx, &cfg.Database, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		db.UseRouteReader(routes)
		store = db

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	log.Info("database storage ready", zap.String("type", cfg.Database.Type))

	if !cfg.Redis.Enabled {
		local := cache.NewLocalCache(10000, cfg.Domains.RouteTTL)
		log.Info("local route cache enabled", zap.Duration("ttl", cfg.Domains.RouteTTL))
		return hybrid.NewStore(store, local, log), local, nil
	}

	client, err := redis.New(ctx, &cfg.Redis, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	routeCache := redis.NewCache(client, cfg.Domains.RouteTTL)
	log.Info("redis route cache enabled", zap.Duration("ttl", cfg.Domains.RouteTTL))
	return hybrid.NewStore(store, routeCache, log), nil, nil
}
