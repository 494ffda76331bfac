package httptransport

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinypm/backend/internal/auth"
	"tinypm/backend/internal/middleware"
)

const (
	oauthStateCookie = "tinypm_oauth_state"
	oauthStateMaxAge = 10 * time.Minute
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	redirectURL string // 登录成功后跳转的前端地址，留空时直接返回 JSON
	secure      bool
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, redirectURL string, secureCookies bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		redirectURL: redirectURL,
		secure:      secureCookies,
		log:         log.Named("auth"),
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// GoogleLogin godoc
// @Summary 跳转到 Google 登录
// @Tags Auth
// @Success 302
// @Failure 503 {object} Response
// @Router /auth/google/login [get]
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	loginURL, state, err := h.authService.LoginURL()
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int(oauthStateMaxAge.Seconds()), "/auth", "", h.secure, true)
	c.Redirect(http.StatusFound, loginURL)
}

// GoogleCallback godoc
// @Summary Google 登录回调
// @Description 校验 state 后换取令牌，首次登录自动注册
// @Tags Auth
// @Produce json
// @Param code query string true "授权码"
// @Param state query string true "state"
// @Success 200 {object} Response{data=auth.LoginResult}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/google/callback [get]
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		BadRequest(c, "invalid oauth state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/auth", "", h.secure, true)

	code := c.Query("code")
	if code == "" {
		BadRequest(c, "missing authorization code")
		return
	}

	result, err := h.authService.LoginWithGoogle(c.Request.Context(), code)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if h.redirectURL == "" {
		Success(c, result)
		return
	}

	// 令牌放在 URL 片段中，不会出现在服务端日志里
	fragment := url.Values{}
	fragment.Set("access_token", result.Tokens.AccessToken)
	fragment.Set("refresh_token", result.Tokens.RefreshToken)
	c.Redirect(http.StatusFound, h.redirectURL+"#"+fragment.Encode())
}

// Refresh godoc
// @Summary 刷新令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} Response{data=jwt.TokenPair}
// @Failure 401 {object} Response
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, pair)
}

// Me godoc
// @Summary 当前用户
// @Tags Auth
// @Produce json
// @Success 200 {object} Response{data=domain.User}
// @Failure 401 {object} Response
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.Me(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user)
}

// UpdateMe godoc
// @Summary 更新个人资料
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body auth.UpdateProfileInput true "资料"
// @Success 200 {object} Response{data=domain.User}
// @Router /me [patch]
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var input auth.UpdateProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.authService.UpdateProfile(c.Request.Context(), middleware.UserID(c), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user)
}
