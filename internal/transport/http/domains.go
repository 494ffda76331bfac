package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/middleware"
	"tinypm/backend/internal/service"
)

// DomainHandler 自定义域名处理器
type DomainHandler struct {
	domains *service.CustomDomainService
	routing *service.RoutingService
	log     *zap.Logger
}

// NewDomainHandler 创建自定义域名处理器
func NewDomainHandler(domains *service.CustomDomainService, routing *service.RoutingService, log *zap.Logger) *DomainHandler {
	return &DomainHandler{
		domains: domains,
		routing: routing,
		log:     log.Named("domains"),
	}
}

// AddDomainRequest 添加自定义域名请求
type AddDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// AddDomain godoc
// @Summary 认领自定义域名
// @Description 校验域名并创建 PENDING 记录，需要有效订阅
// @Tags Domains
// @Accept json
// @Produce json
// @Param request body AddDomainRequest true "域名"
// @Success 200 {object} Response{data=domain.CustomDomainView}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /domains [post]
func (h *DomainHandler) AddDomain(c *gin.Context) {
	var req AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, string(domain.ErrKindInvalidFormat), "domain is required")
		return
	}

	record, err := h.domains.AddDomain(c.Request.Context(), middleware.UserID(c), req.Domain)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, h.domains.View(record))
}

// ListDomains godoc
// @Summary 获取域名列表
// @Tags Domains
// @Produce json
// @Success 200 {object} Response{data=object{domains=[]domain.CustomDomainView}}
// @Failure 401 {object} Response
// @Router /domains [get]
func (h *DomainHandler) ListDomains(c *gin.Context) {
	records, err := h.domains.ListDomains(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	views := make([]*domain.CustomDomainView, 0, len(records))
	for _, record := range records {
		views = append(views, h.domains.View(record))
	}
	Success(c, gin.H{"domains": views})
}

// GetDomain godoc
// @Summary 获取域名详情
// @Description 包含需要配置的 CNAME 记录与冷却剩余时间
// @Tags Domains
// @Produce json
// @Param id path string true "域名ID"
// @Success 200 {object} Response{data=domain.CustomDomainView}
// @Failure 404 {object} Response
// @Router /domains/{id} [get]
func (h *DomainHandler) GetDomain(c *gin.Context) {
	record, err := h.domains.GetDomain(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, h.domains.View(record))
}

// DeleteDomain godoc
// @Summary 删除域名
// @Tags Domains
// @Produce json
// @Param id path string true "域名ID"
// @Success 200 {object} Response{data=object{success=bool}}
// @Failure 404 {object} Response
// @Router /domains/{id} [delete]
func (h *DomainHandler) DeleteDomain(c *gin.Context) {
	if err := h.domains.DeleteDomain(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"success": true})
}

// VerifyDomain godoc
// @Summary 验证域名
// @Description 执行一次 DNS CNAME 检查。验证失败同样返回 200，结果体现在 status 与 errorMessage 中
// @Tags Domains
// @Produce json
// @Param id path string true "域名ID"
// @Success 200 {object} Response{data=domain.CustomDomainView}
// @Failure 400 {object} Response "COOLDOWN 或 MAX_ATTEMPTS"
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Router /domains/{id}/verify [post]
func (h *DomainHandler) VerifyDomain(c *gin.Context) {
	record, err := h.domains.Verify(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, h.domains.View(record))
}

// CheckHost godoc
// @Summary 主机名是否可服务
// @Description 反向代理签发证书前调用，返回纯文本 yes 或 no
// @Tags Domains
// @Produce plain
// @Param domain query string true "主机名"
// @Success 200 {string} string "yes"
// @Router /domains/verify [get]
func (h *DomainHandler) CheckHost(c *gin.Context) {
	host := c.Query("domain")
	if host == "" {
		c.String(http.StatusBadRequest, "no")
		return
	}

	ok, err := h.routing.IsAllowedHost(c.Request.Context(), host)
	if err != nil {
		h.log.Warn("host check failed", zap.String("host", host), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "no")
		return
	}
	if ok {
		c.String(http.StatusOK, "yes")
		return
	}
	c.String(http.StatusOK, "no")
}
