package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"

	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/service"
)

// 改写请求时附加的请求头
const (
	HeaderForwardedHost = "X-Forwarded-Host"
	HeaderCustomDomain  = "X-TinyPM-Custom-Domain"
)

// HostRouter 根据 Host 头把自定义域名与用户名子域名的请求改写到 /{username}{path}
//
// 它包在 gin 引擎外层，所有方法都会经过这里。平台自身的主机原样放行；
// 未激活的主机直接返回 404，不会把平台内容暴露在未认领的域名下。
type HostRouter struct {
	routing *service.RoutingService
	next    http.Handler
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewHostRouter 创建主机名路由
func NewHostRouter(routing *service.RoutingService, next http.Handler, metrics *monitoring.Metrics, log *zap.Logger) *HostRouter {
	return &HostRouter{
		routing: routing,
		next:    next,
		metrics: metrics,
		log:     log.Named("host_router"),
	}
}

// ServeHTTP 实现 http.Handler
func (h *HostRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision, err := h.routing.Resolve(r.Context(), r.Host)
	if err != nil {
		h.record("error")
		h.log.Error("route lookup failed", zap.String("host", r.Host), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Code:  http.StatusServiceUnavailable,
			Msg:   "service temporarily unavailable",
			Error: ErrCodeServiceUnavailable,
		})
		return
	}
	h.record(string(decision.Kind))

	switch {
	case decision.Kind == service.RouteNotConfigured:
		writeJSON(w, http.StatusNotFound, Response{
			Code:  http.StatusNotFound,
			Msg:   "domain not configured",
			Error: "DOMAIN_NOT_CONFIGURED",
		})

	case decision.Rewrites():
		rewritten := r.Clone(r.Context())
		rewritten.URL.Path = decision.RewritePath(r.URL.Path)
		rewritten.URL.RawPath = ""
		rewritten.RequestURI = rewritten.URL.RequestURI()
		rewritten.Header.Set(HeaderForwardedHost, decision.Host)
		if decision.Kind == service.RouteCustomDomain {
			rewritten.Header.Set(HeaderCustomDomain, decision.Host)
		} else {
			rewritten.Header.Del(HeaderCustomDomain)
		}
		h.log.Debug("request rewritten",
			zap.String("host", decision.Host),
			zap.String("from", r.URL.Path),
			zap.String("to", rewritten.URL.Path))
		h.next.ServeHTTP(w, rewritten)

	default:
		// 平台主机上不信任客户端自带的改写标记
		if r.Header.Get(HeaderCustomDomain) != "" {
			r = r.Clone(r.Context())
			r.Header.Del(HeaderCustomDomain)
		}
		h.next.ServeHTTP(w, r)
	}
}

func (h *HostRouter) record(decision string) {
	if h.metrics != nil {
		h.metrics.RecordProxyDecision(decision)
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	out := render.JSON{Data: body}
	out.WriteContentType(w)
	w.WriteHeader(status)
	_ = out.Render(w)
}
