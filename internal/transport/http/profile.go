package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/middleware"
	"tinypm/backend/internal/service"
)

// ProfileHandler 用户名、内容块与公开主页
type ProfileHandler struct {
	profiles *service.ProfileService
	log      *zap.Logger
}

// NewProfileHandler 创建主页处理器
func NewProfileHandler(profiles *service.ProfileService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		log:      log.Named("profile"),
	}
}

type claimUsernameRequest struct {
	Username string `json:"username" binding:"required"`
}

type reorderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// ClaimUsername godoc
// @Summary 认领用户名
// @Tags Profile
// @Accept json
// @Produce json
// @Param request body claimUsernameRequest true "用户名"
// @Success 200 {object} Response{data=domain.User}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /me/username [put]
func (h *ProfileHandler) ClaimUsername(c *gin.Context) {
	var req claimUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.profiles.ClaimUsername(c.Request.Context(), middleware.UserID(c), req.Username)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user)
}

// ListBlocks godoc
// @Summary 内容块列表
// @Tags Profile
// @Produce json
// @Success 200 {object} Response{data=object{blocks=[]domain.Block}}
// @Router /me/blocks [get]
func (h *ProfileHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.profiles.ListBlocks(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if blocks == nil {
		blocks = []*domain.Block{}
	}
	Success(c, gin.H{"blocks": blocks})
}

// CreateBlock godoc
// @Summary 新建内容块
// @Tags Profile
// @Accept json
// @Produce json
// @Param request body service.BlockInput true "内容块"
// @Success 201 {object} Response{data=domain.Block}
// @Failure 400 {object} Response
// @Router /me/blocks [post]
func (h *ProfileHandler) CreateBlock(c *gin.Context) {
	var input service.BlockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	block, err := h.profiles.CreateBlock(c.Request.Context(), middleware.UserID(c), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, block)
}

// UpdateBlock godoc
// @Summary 更新内容块
// @Tags Profile
// @Accept json
// @Produce json
// @Param id path string true "内容块ID"
// @Param request body service.BlockPatch true "更新字段"
// @Success 200 {object} Response{data=domain.Block}
// @Failure 404 {object} Response
// @Router /me/blocks/{id} [patch]
func (h *ProfileHandler) UpdateBlock(c *gin.Context) {
	var patch service.BlockPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	block, err := h.profiles.UpdateBlock(c.Request.Context(), middleware.UserID(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, block)
}

// DeleteBlock godoc
// @Summary 删除内容块
// @Tags Profile
// @Param id path string true "内容块ID"
// @Success 200 {object} Response{data=object{success=bool}}
// @Failure 404 {object} Response
// @Router /me/blocks/{id} [delete]
func (h *ProfileHandler) DeleteBlock(c *gin.Context) {
	if err := h.profiles.DeleteBlock(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"success": true})
}

// ReorderBlocks godoc
// @Summary 调整内容块顺序
// @Tags Profile
// @Accept json
// @Produce json
// @Param request body reorderRequest true "按新顺序排列的全部ID"
// @Success 200 {object} Response{data=object{blocks=[]domain.Block}}
// @Failure 400 {object} Response
// @Router /me/blocks/order [put]
func (h *ProfileHandler) ReorderBlocks(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	blocks, err := h.profiles.ReorderBlocks(c.Request.Context(), middleware.UserID(c), req.IDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"blocks": blocks})
}

// Analytics godoc
// @Summary 点击统计
// @Tags Profile
// @Produce json
// @Success 200 {object} Response{data=object{blocks=[]domain.BlockStats}}
// @Router /me/analytics [get]
func (h *ProfileHandler) Analytics(c *gin.Context) {
	stats, err := h.profiles.Analytics(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if stats == nil {
		stats = []domain.BlockStats{}
	}
	Success(c, gin.H{"blocks": stats})
}

// ========== 公开主页 ==========

// PublicProfile godoc
// @Summary 公开主页
// @Description 自定义域名与用户名子域名的请求会被改写到这里
// @Tags Public
// @Produce json
// @Param username path string true "用户名"
// @Success 200 {object} Response{data=domain.PublicProfile}
// @Failure 404 {object} Response
// @Router /{username} [get]
func (h *ProfileHandler) PublicProfile(c *gin.Context) {
	profile, err := h.profiles.GetPublicProfile(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, profile)
}

// FollowLink godoc
// @Summary 跟随链接
// @Description 记录点击并 302 跳转到链接地址
// @Tags Public
// @Param username path string true "用户名"
// @Param blockId path string true "内容块ID"
// @Success 302
// @Failure 404 {object} Response
// @Router /{username}/go/{blockId} [get]
func (h *ProfileHandler) FollowLink(c *gin.Context) {
	host := c.GetHeader(HeaderForwardedHost)
	if host == "" {
		host = c.Request.Host
	}

	target, err := h.profiles.RecordClick(c.Request.Context(), c.Param("username"), c.Param("blockId"), service.ClickMeta{
		Referrer:  c.Request.Referer(),
		UserAgent: c.Request.UserAgent(),
		Host:      service.NormalizeHost(host),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}
