package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypm/backend/internal/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/domains", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]interface{}{"code": 401, "msg": "authentication required", "error": "UNAUTHORIZED"})
			return
		}
		switch r.Method {
		case http.MethodPost:
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeEnvelope(w, http.StatusOK, map[string]interface{}{"code": 200, "msg": "ok", "data": map[string]interface{}{
				"id": "d1", "domain": req["domain"], "status": "PENDING", "cnameTarget": "tinypm.app",
				"dns":               map[string]interface{}{"type": "CNAME", "host": req["domain"], "value": "tinypm.app", "ttl": 300},
				"attemptsRemaining": 5,
			}})
		case http.MethodGet:
			writeEnvelope(w, http.StatusOK, map[string]interface{}{"code": 200, "msg": "ok", "data": map[string]interface{}{
				"domains": []map[string]interface{}{{"id": "d1", "domain": "links.example.com", "status": "ACTIVE"}},
			}})
		}
	})
	mux.HandleFunc("/domains/d1/verify", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, map[string]interface{}{
			"code": 400, "msg": "verification cooldown", "error": "COOLDOWN", "retryAfterSeconds": 120,
		})
	})
	mux.HandleFunc("/domains/d1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"code": 200, "msg": "ok", "data": map[string]bool{"success": true}})
	})
	mux.HandleFunc("/domains/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("domain") == "links.example.com" {
			_, _ = w.Write([]byte("yes"))
			return
		}
		_, _ = w.Write([]byte("no"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Domains(t *testing.T) {
	srv := newFakeServer(t)
	c := New(srv.URL+"/", "token-1")
	ctx := context.Background()

	t.Run("认领域名", func(t *testing.T) {
		view, err := c.AddDomain(ctx, "links.example.com")
		require.NoError(t, err)
		assert.Equal(t, "d1", view.ID)
		assert.Equal(t, domain.DomainStatusPending, view.Status)
		assert.Equal(t, "tinypm.app", view.DNS.Value)
		assert.Equal(t, 5, view.AttemptsRemaining)
	})

	t.Run("列出域名", func(t *testing.T) {
		views, err := c.ListDomains(ctx)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, domain.DomainStatusActive, views[0].Status)
	})

	t.Run("冷却错误带重试时间", func(t *testing.T) {
		_, err := c.VerifyDomain(ctx, "d1")
		require.Error(t, err)
		assert.True(t, IsKind(err, domain.ErrKindCooldown))

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Equal(t, 120, apiErr.RetryAfterSeconds)
	})

	t.Run("删除域名", func(t *testing.T) {
		require.NoError(t, c.DeleteDomain(ctx, "d1"))
	})

	t.Run("主机检查", func(t *testing.T) {
		ok, err := c.CheckHost(ctx, "links.example.com")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.CheckHost(ctx, "other.example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("未登录", func(t *testing.T) {
		_, err := New(srv.URL, "").ListDomains(ctx)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
	})
}

func TestConfig_LoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tinypm.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, cfg.Server)
	assert.Empty(t, cfg.Token)

	cfg.Server = "http://localhost:8080"
	cfg.Token = "abc"
	require.NoError(t, SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", loaded.Server)
	assert.Equal(t, "abc", loaded.Token)

	require.NoError(t, os.WriteFile(path, []byte("token: xyz\n"), 0600))
	loaded, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, loaded.Server)
	assert.Equal(t, "xyz", loaded.Token)
}

func TestConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("TINYPM_CONFIG", "/tmp/custom.yaml")
	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", path)
}
