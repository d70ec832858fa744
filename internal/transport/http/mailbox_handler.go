package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/middleware"
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/service"
)

// MailboxHandler 邮箱生命周期相关的 HTTP 处理器
type MailboxHandler struct {
	mailboxes *service.MailboxService
	enforcer  *quota.Enforcer
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes *service.MailboxService, enforcer *quota.Enforcer) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		enforcer:  enforcer,
	}
}

type createMailboxRequest struct {
	Prefix string `json:"prefix"`
	Domain string `json:"domain"`
}

type mailboxResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
}

type mailboxListResponse struct {
	Items []mailboxResponse `json:"items"`
	Count int               `json:"count"`
}

func toMailboxResponse(mb *domain.Mailbox) mailboxResponse {
	return mailboxResponse{
		ID:        mb.ID,
		Email:     mb.Email,
		UserID:    mb.UserID,
		CreatedAt: mb.CreatedAt,
		ExpiresAt: mb.ExpiresAt,
		IsActive:  mb.IsActive,
	}
}

// requireUserID 从认证上下文提取用户ID
func requireUserID(c *gin.Context) (string, bool) {
	if v, exists := c.Get(middleware.ContextUserID); exists {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	Unauthorized(c, MsgAuthRequired)
	return "", false
}

// authorizeMailbox 校验当前用户对邮箱的访问权限
//
// 所有者与管理员可访问，其余调用方返回 404 而非 403，
// 避免泄漏邮箱ID的存在性。
func authorizeMailbox(c *gin.Context, mb *domain.Mailbox) bool {
	userID, ok := requireUserID(c)
	if !ok {
		return false
	}
	if mb.UserID == userID {
		return true
	}
	if role, _ := c.Get(middleware.ContextRole); role == "admin" {
		return true
	}
	NotFound(c, MsgMailboxNotFound)
	return false
}

// createMailbox godoc
// @Summary 创建临时邮箱
// @Description 创建一个新的临时邮箱，地址在配置的 TTL 后过期
// @Tags Mailboxes
// @Accept json
// @Produce json
// @Param request body createMailboxRequest true "邮箱参数"
// @Success 201 {object} mailboxResponse
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /v1/mailboxes [post]
func (h *MailboxHandler) createMailbox(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req createMailboxRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	mb, err := h.mailboxes.Create(c.Request.Context(), service.CreateMailboxInput{
		UserID: userID,
		Prefix: req.Prefix,
		Domain: req.Domain,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Created(c, toMailboxResponse(mb))
}

// listMailboxes godoc
// @Summary 获取当前用户的邮箱列表
// @Tags Mailboxes
// @Produce json
// @Success 200 {object} mailboxListResponse
// @Router /v1/mailboxes [get]
func (h *MailboxHandler) listMailboxes(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	mailboxes, err := h.mailboxes.ListByUser(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	items := make([]mailboxResponse, 0, len(mailboxes))
	for i := range mailboxes {
		items = append(items, toMailboxResponse(&mailboxes[i]))
	}

	Success(c, mailboxListResponse{Items: items, Count: len(items)})
}

// resolveMailbox godoc
// @Summary 按地址解析邮箱
// @Description 将邮箱地址解析为可投递的邮箱记录，过期邮箱返回 410
// @Tags Mailboxes
// @Produce json
// @Param email query string true "邮箱地址"
// @Success 200 {object} mailboxResponse
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/mailboxes/resolve [get]
func (h *MailboxHandler) resolveMailbox(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		BadRequest(c, "email 参数不能为空")
		return
	}

	mb, err := h.mailboxes.Resolve(c.Request.Context(), email)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Success(c, toMailboxResponse(mb))
}

// getMailbox godoc
// @Summary 获取邮箱详情
// @Description 过期邮箱仍可读取，但 isActive 为 false
// @Tags Mailboxes
// @Produce json
// @Param id path string true "邮箱ID"
// @Success 200 {object} mailboxResponse
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id} [get]
func (h *MailboxHandler) getMailbox(c *gin.Context) {
	mb, err := h.mailboxes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !authorizeMailbox(c, mb) {
		return
	}

	Success(c, toMailboxResponse(mb))
}

// destroyMailbox godoc
// @Summary 销毁邮箱
// @Description 删除邮箱及其全部邮件与附件，并释放占用的配额
// @Tags Mailboxes
// @Param id path string true "邮箱ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id} [delete]
func (h *MailboxHandler) destroyMailbox(c *gin.Context) {
	mb, err := h.mailboxes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !authorizeMailbox(c, mb) {
		return
	}

	if err := h.mailboxes.Destroy(c.Request.Context(), mb.ID); err != nil {
		writeDomainError(c, err)
		return
	}

	NoContent(c)
}

// getQuota godoc
// @Summary 获取当前用户的配额占用
// @Tags Quota
// @Produce json
// @Success 200 {object} domain.QuotaUsage
// @Router /v1/quota [get]
func (h *MailboxHandler) getQuota(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	usage, err := h.enforcer.Usage(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Success(c, usage)
}
