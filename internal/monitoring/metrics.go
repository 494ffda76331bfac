package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 验证结果标签
const (
	OutcomeActive      = "active"
	OutcomeFailed      = "failed"
	OutcomeDNSError    = "dns_error"
	OutcomeCooldown    = "cooldown"
	OutcomeMaxAttempts = "max_attempts"
	OutcomeNoop        = "noop"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 自定义域名指标
	DomainsCreated     prometheus.Counter
	DomainsDeleted     prometheus.Counter
	VerificationsTotal *prometheus.CounterVec
	DNSLookupDuration  *prometheus.HistogramVec
	ProxyDecisions     *prometheus.CounterVec

	// 主页指标
	BlockClicks     prometheus.Counter
	UsersRegistered prometheus.Counter
	UsersOnline     prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 创建监控指标，reg 为 nil 时注册到默认注册表
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer = reg
		gatherer = reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinypm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinypm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinypm_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		DomainsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinypm_custom_domains_created_total",
			Help: "Total number of claimed custom domains",
		}),

		DomainsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinypm_custom_domains_deleted_total",
			Help: "Total number of deleted custom domains",
		}),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinypm_domain_verifications_total",
				Help: "Custom domain verification requests by outcome",
			},
			[]string{"outcome"},
		),

		DNSLookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinypm_dns_lookup_duration_seconds",
				Help:    "CNAME lookup duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"result"},
		),

		ProxyDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinypm_proxy_decisions_total",
				Help: "Host header routing decisions",
			},
			[]string{"decision"},
		),

		BlockClicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinypm_block_clicks_total",
			Help: "Total number of tracked link clicks",
		}),

		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinypm_users_registered_total",
			Help: "Total number of registered users",
		}),

		UsersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tinypm_websocket_connections",
			Help: "Open dashboard WebSocket connections",
		}),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinypm_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tinypm_panics_total",
			Help: "Total number of recovered panics",
		}),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinypm_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordDomainCreated 记录域名认领
func (m *Metrics) RecordDomainCreated() {
	m.DomainsCreated.Inc()
}

// RecordDomainDeleted 记录域名删除
func (m *Metrics) RecordDomainDeleted() {
	m.DomainsDeleted.Inc()
}

// RecordVerification 记录一次验证请求的结果
func (m *Metrics) RecordVerification(outcome string) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDNSLookup 记录 DNS 查询耗时
func (m *Metrics) RecordDNSLookup(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DNSLookupDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordProxyDecision 记录主机名路由结果
func (m *Metrics) RecordProxyDecision(decision string) {
	m.ProxyDecisions.WithLabelValues(decision).Inc()
}

// RecordBlockClick 记录链接点击
func (m *Metrics) RecordBlockClick() {
	m.BlockClicks.Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateUsersOnline 更新在线连接数
func (m *Metrics) UpdateUsersOnline(count int) {
	m.UsersOnline.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
