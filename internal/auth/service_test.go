package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"tinypm/backend/internal/auth/jwt"
	"tinypm/backend/internal/config"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage/memory"
)

type fakeProvider struct {
	identities map[string]*Identity
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*Identity, error) {
	identity, ok := p.identities[code]
	if !ok {
		return nil, errors.New("invalid_grant")
	}
	return identity, nil
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	provider := &fakeProvider{identities: map[string]*Identity{
		"code-alice": {Subject: "g-alice", Email: "Alice@Example.com", EmailVerified: true, Name: "Alice", Picture: "https://img.example.com/a.png"},
		"code-bob":   {Subject: "g-bob", Email: "bob@example.com", EmailVerified: true, Name: "Bob"},
		"code-eve":   {Subject: "g-eve", Email: "eve@example.com", EmailVerified: false},
	}}
	tokens := jwt.NewManager(strings.Repeat("k", 32), "tinypm", 15*time.Minute, 7*24*time.Hour)
	return NewService(store, provider, tokens, zap.NewNop()), store
}

func TestService_LoginWithGoogle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	t.Run("首次登录自动注册", func(t *testing.T) {
		result, err := svc.LoginWithGoogle(ctx, "code-alice")
		require.NoError(t, err)
		assert.True(t, result.IsNew)
		assert.Equal(t, "alice@example.com", result.User.Email)
		assert.Equal(t, "Alice", result.User.DisplayName)
		assert.NotNil(t, result.User.LastLoginAt)
		assert.NotEmpty(t, result.Tokens.AccessToken)

		claims, err := svc.Tokens().ValidateAccessToken(result.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, claims.UserID)
	})

	t.Run("再次登录复用账号", func(t *testing.T) {
		first, err := store.GetUserByGoogleSubject(ctx, "g-alice")
		require.NoError(t, err)

		result, err := svc.LoginWithGoogle(ctx, "code-alice")
		require.NoError(t, err)
		assert.False(t, result.IsNew)
		assert.Equal(t, first.ID, result.User.ID)
	})

	t.Run("按邮箱关联已有用户", func(t *testing.T) {
		require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "seed-bob", Email: "bob@example.com"}))

		result, err := svc.LoginWithGoogle(ctx, "code-bob")
		require.NoError(t, err)
		assert.False(t, result.IsNew)
		assert.Equal(t, "seed-bob", result.User.ID)

		linked, err := store.GetUserByGoogleSubject(ctx, "g-bob")
		require.NoError(t, err)
		assert.Equal(t, "seed-bob", linked.ID)
	})

	t.Run("邮箱未验证", func(t *testing.T) {
		_, err := svc.LoginWithGoogle(ctx, "code-eve")
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("授权码无效", func(t *testing.T) {
		_, err := svc.LoginWithGoogle(ctx, "bogus")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestService_LoginURL(t *testing.T) {
	svc, _ := newTestService(t)

	url, state, err := svc.LoginURL()
	require.NoError(t, err)
	assert.Len(t, state, 32)
	assert.Contains(t, url, "state="+state)

	disabled := NewService(memory.NewStore(), nil, svc.Tokens(), zap.NewNop())
	_, _, err = disabled.LoginURL()
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	result, err := svc.LoginWithGoogle(ctx, "code-alice")
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = svc.Refresh(ctx, result.Tokens.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrWrongTokenType)

	orphan, err := svc.Tokens().GenerateTokenPair("deleted-user", "gone@example.com")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, orphan.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	result, err := svc.LoginWithGoogle(ctx, "code-alice")
	require.NoError(t, err)

	name := "  Alice Liddell "
	bio := "Down the rabbit hole"
	user, err := svc.UpdateProfile(ctx, result.User.ID, UpdateProfileInput{DisplayName: &name, Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", user.DisplayName)
	assert.Equal(t, bio, user.Bio)
	assert.Equal(t, "https://img.example.com/a.png", user.AvatarURL)
}

func TestGoogleProvider_Exchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "google-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Identity{Subject: "g-1", Email: "carol@example.com", EmailVerified: true, Name: "Carol"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		},
		userInfoURL: srv.URL + "/userinfo",
		httpClient:  srv.Client(),
	}

	identity, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "g-1", identity.Subject)
	assert.Equal(t, "carol@example.com", identity.Email)
	assert.True(t, identity.EmailVerified)

	assert.Contains(t, p.AuthCodeURL("xyz"), "state=xyz")
}

func TestNewGoogleProvider_NotConfigured(t *testing.T) {
	_, err := NewGoogleProvider(&config.OAuthConfig{GoogleRedirectURL: "http://localhost/cb"})
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
}
