package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"tinypm/backend/internal/config"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

// RouteKind 主机名路由结果
type RouteKind string

const (
	// RoutePassthrough 平台自身的主机，请求原样交给 API
	RoutePassthrough RouteKind = "passthrough"
	// RouteSubdomain {username}.{root} 子域名主页
	RouteSubdomain RouteKind = "subdomain"
	// RouteCustomDomain 已激活的自定义域名
	RouteCustomDomain RouteKind = "custom"
	// RouteNotConfigured 未知主机
	RouteNotConfigured RouteKind = "not_configured"
)

// RouteDecision 一次路由判断的结果
type RouteDecision struct {
	Kind     RouteKind
	Host     string
	Username string
	DomainID string
}

// Rewrites 是否需要改写到个人主页路径
func (d RouteDecision) Rewrites() bool {
	return d.Kind == RouteSubdomain || d.Kind == RouteCustomDomain
}

// RewritePath 把请求路径改写为 /{username}{path}
func (d RouteDecision) RewritePath(path string) string {
	if path == "" || path == "/" {
		return "/" + d.Username
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "/" + d.Username + path
}

// RouteLookup 按主机名查询已激活的路由
type RouteLookup interface {
	FindActiveByHostname(ctx context.Context, hostname string) (*domain.ActiveRoute, error)
}

// RoutingService 根据 Host 头决定请求去向
type RoutingService struct {
	routes            RouteLookup
	rootDomain        string
	devHosts          map[string]struct{}
	reserved          map[string]struct{}
	subdomainProfiles bool
	log               *zap.Logger
}

// NewRoutingService 创建路由服务
func NewRoutingService(routes RouteLookup, cfg *config.Config, log *zap.Logger) *RoutingService {
	return &RoutingService{
		routes:            routes,
		rootDomain:        normalizeHostname(cfg.Platform.RootDomain),
		devHosts:          toSet(cfg.Platform.DevHosts),
		reserved:          toSet(cfg.Platform.ReservedSubdomains),
		subdomainProfiles: cfg.Platform.SubdomainProfiles,
		log:               log.Named("routing"),
	}
}

// NormalizeHost 去掉端口与末尾的点并转为小写
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return normalizeHostname(host)
}

// Resolve 判断请求主机名的去向
//
// 平台根域名、其子域名、开发主机与 IP 直连都原样放行，只有其他主机名才查询存储。
func (s *RoutingService) Resolve(ctx context.Context, rawHost string) (RouteDecision, error) {
	host := NormalizeHost(rawHost)
	decision := RouteDecision{Kind: RoutePassthrough, Host: host}

	if host == "" || net.ParseIP(host) != nil {
		return decision, nil
	}
	if _, ok := s.devHosts[host]; ok {
		return decision, nil
	}
	if host == s.rootDomain {
		return decision, nil
	}
	if label, ok := strings.CutSuffix(host, "."+s.rootDomain); ok {
		if username, ok := s.subdomainUsername(label); ok {
			decision.Kind = RouteSubdomain
			decision.Username = username
		}
		return decision, nil
	}

	route, err := s.routes.FindActiveByHostname(ctx, host)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			decision.Kind = RouteNotConfigured
			return decision, nil
		}
		return decision, fmt.Errorf("lookup route for %s: %w", host, err)
	}
	if route.Username == "" {
		// 域名已激活但用户尚未认领用户名，没有可展示的主页
		decision.Kind = RouteNotConfigured
		return decision, nil
	}

	decision.Kind = RouteCustomDomain
	decision.Username = route.Username
	decision.DomainID = route.DomainID
	return decision, nil
}

func (s *RoutingService) subdomainUsername(label string) (string, bool) {
	if !s.subdomainProfiles || strings.Contains(label, ".") {
		return "", false
	}
	if _, ok := s.reserved[label]; ok {
		return "", false
	}
	if err := domain.ValidateUsername(label); err != nil {
		return "", false
	}
	return label, true
}

// IsAllowedHost 主机名是否可以被服务（反向代理签发证书前询问）
//
// IP 直连虽然会被放行到平台路由，但不算可服务的主机名。
func (s *RoutingService) IsAllowedHost(ctx context.Context, host string) (bool, error) {
	if net.ParseIP(NormalizeHost(host)) != nil {
		return false, nil
	}
	decision, err := s.Resolve(ctx, host)
	if err != nil {
		return false, err
	}
	return decision.Kind != RouteNotConfigured, nil
}

// HostPolicy 返回 autocert 使用的主机白名单
func (s *RoutingService) HostPolicy() func(ctx context.Context, host string) error {
	return func(ctx context.Context, host string) error {
		ok, err := s.IsAllowedHost(ctx, host)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("certificate request rejected", zap.String("host", host))
			return fmt.Errorf("acme: host %q is not configured", host)
		}
		return nil
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item = normalizeHostname(item); item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}
