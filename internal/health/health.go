package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger 可以检查连通性的依赖
type Pinger interface {
	Health(ctx context.Context) error
}

// Check 单项检查结果
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 健康报告
type Report struct {
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Checks      []Check   `json:"checks"`
}

// Checker 健康检查器
//
// 存活检查只看进程本身（goroutine 数量），就绪检查会访问存储。
type Checker struct {
	health    healthcheck.Handler
	store     Pinger
	logger    *zap.Logger
	startTime time.Time
	version   string
	env       string
}

const (
	maxGoroutines = 10000
	checkTimeout  = 3 * time.Second
)

// NewChecker 创建健康检查器
func NewChecker(store Pinger, logger *zap.Logger, version, env string) *Checker {
	hc := &Checker{
		health:    healthcheck.NewHandler(),
		store:     store,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
		env:       env,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.health.AddReadinessCheck("store", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return hc.store.Health(ctx)
	}, checkTimeout))

	return hc
}

// LiveEndpoint 存活探针
func (hc *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// Report 执行全部检查并汇总
func (hc *Checker) Report(ctx context.Context) *Report {
	report := &Report{
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(hc.startTime).Round(time.Second).String(),
		Version:     hc.version,
		Environment: hc.env,
		Checks:      make([]Check, 0, 3),
	}

	checks := []func(context.Context) Check{
		hc.checkStore,
		checkGoroutines,
		checkMemory,
	}

	overall := StatusHealthy
	for _, run := range checks {
		check := run(ctx)
		report.Checks = append(report.Checks, check)

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}
	report.Status = overall

	if overall != StatusHealthy {
		hc.logger.Warn("health check not healthy", zap.String("status", string(overall)))
	}
	return report
}

func (hc *Checker) checkStore(ctx context.Context) Check {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	check := Check{Name: "store", Status: StatusHealthy, Message: "store is reachable"}
	if err := hc.store.Health(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("store check failed: %v", err)
	}
	check.Duration = time.Since(start)
	return check
}

func checkGoroutines(context.Context) Check {
	n := runtime.NumGoroutine()
	check := Check{Name: "goroutines", Status: StatusHealthy, Message: fmt.Sprintf("goroutines: %d", n)}
	if n > maxGoroutines {
		check.Status = StatusDegraded
	}
	return check
}

func checkMemory(context.Context) Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usageMB := float64(m.Alloc) / 1024 / 1024
	check := Check{Name: "memory", Status: StatusHealthy, Message: fmt.Sprintf("memory usage: %.2f MB", usageMB)}
	if usageMB > 1024 {
		check.Status = StatusDegraded
	}
	return check
}
