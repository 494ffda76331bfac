package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
)

type stubRoutes map[string]*domain.ActiveRoute

func (s stubRoutes) FindActiveByHostname(_ context.Context, hostname string) (*domain.ActiveRoute, error) {
	if hostname == "down.example.com" {
		return nil, errors.New("connection refused")
	}
	route, ok := s[hostname]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return route, nil
}

func newRoutingService(subdomainProfiles bool) *RoutingService {
	cfg := testConfig()
	cfg.Platform.SubdomainProfiles = subdomainProfiles
	routes := stubRoutes{
		"custom.example.com": {DomainID: "d1", UserID: "u1", Username: "alice"},
		"nouser.example.com": {DomainID: "d2", UserID: "u2"},
	}
	return NewRoutingService(routes, cfg, zap.NewNop())
}

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"Custom.Example.COM":      "custom.example.com",
		"custom.example.com:8080": "custom.example.com",
		"custom.example.com.":     "custom.example.com",
		"[::1]:8080":              "::1",
		"127.0.0.1:80":            "127.0.0.1",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHost(in), in)
	}
}

func TestRoutingService_Resolve(t *testing.T) {
	ctx := context.Background()
	svc := newRoutingService(false)

	tests := []struct {
		name     string
		host     string
		kind     RouteKind
		username string
	}{
		{"平台根域名", "tinypm.app", RoutePassthrough, ""},
		{"平台根域名带端口", "TinyPM.app:443", RoutePassthrough, ""},
		{"平台子域名", "api.tinypm.app", RoutePassthrough, ""},
		{"未开启子域名主页", "alice.tinypm.app", RoutePassthrough, ""},
		{"开发主机", "localhost:3000", RoutePassthrough, ""},
		{"IP 直连", "10.0.0.8:8080", RoutePassthrough, ""},
		{"已激活自定义域名", "Custom.Example.com.", RouteCustomDomain, "alice"},
		{"未知主机", "unknown.example.com", RouteNotConfigured, ""},
		{"用户未认领用户名", "nouser.example.com", RouteNotConfigured, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := svc.Resolve(ctx, tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, decision.Kind)
			assert.Equal(t, tt.username, decision.Username)
		})
	}

	t.Run("存储故障", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "down.example.com")
		assert.Error(t, err)
	})
}

func TestRoutingService_SubdomainProfiles(t *testing.T) {
	ctx := context.Background()
	svc := newRoutingService(true)

	decision, err := svc.Resolve(ctx, "alice.tinypm.app")
	require.NoError(t, err)
	assert.Equal(t, RouteSubdomain, decision.Kind)
	assert.Equal(t, "alice", decision.Username)

	for _, host := range []string{"www.tinypm.app", "api.tinypm.app", "a.b.tinypm.app", "x.tinypm.app"} {
		decision, err := svc.Resolve(ctx, host)
		require.NoError(t, err)
		assert.Equal(t, RoutePassthrough, decision.Kind, host)
	}
}

func TestRouteDecision_RewritePath(t *testing.T) {
	d := RouteDecision{Kind: RouteCustomDomain, Username: "alice"}

	assert.Equal(t, "/alice", d.RewritePath("/"))
	assert.Equal(t, "/alice", d.RewritePath(""))
	assert.Equal(t, "/alice/foo", d.RewritePath("/foo"))
	assert.Equal(t, "/alice/go/123", d.RewritePath("/go/123"))
	assert.True(t, d.Rewrites())
	assert.False(t, RouteDecision{Kind: RoutePassthrough}.Rewrites())
}

func TestRoutingService_HostPolicy(t *testing.T) {
	ctx := context.Background()
	svc := newRoutingService(false)
	policy := svc.HostPolicy()

	assert.NoError(t, policy(ctx, "custom.example.com"))
	assert.NoError(t, policy(ctx, "tinypm.app"))
	assert.Error(t, policy(ctx, "unknown.example.com"))
	assert.Error(t, policy(ctx, "10.0.0.8"))

	ok, err := svc.IsAllowedHost(ctx, "localhost")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, host := range []string{"1.2.3.4", "10.0.0.8:443", "[::1]:8080"} {
		ok, err := svc.IsAllowedHost(ctx, host)
		require.NoError(t, err)
		assert.False(t, ok, host)
	}
}
