package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/service"
)

// MessageHandler 邮件相关的 HTTP 处理器
type MessageHandler struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(mailboxes *service.MailboxService, messages *service.MessageService) *MessageHandler {
	return &MessageHandler{
		mailboxes: mailboxes,
		messages:  messages,
	}
}

type attachmentInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type messageResponse struct {
	ID          string           `json:"id"`
	MailboxID   string           `json:"mailboxId"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	Text        string           `json:"text,omitempty"`
	HTML        string           `json:"html,omitempty"`
	IsRead      bool             `json:"isRead"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	Attachments []attachmentInfo `json:"attachments,omitempty"`
}

type messageListResponse struct {
	Items    []messageResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

func toMessageResponse(msg *domain.Message) messageResponse {
	resp := messageResponse{
		ID:         msg.ID,
		MailboxID:  msg.MailboxID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		Text:       msg.Text,
		HTML:       msg.HTML,
		IsRead:     msg.IsRead,
		ReceivedAt: msg.ReceivedAt,
	}
	for _, att := range msg.Attachments {
		resp.Attachments = append(resp.Attachments, attachmentInfo{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	return resp
}

// authorizeMailboxAccess 校验当前用户对邮箱的访问权限
func (h *MessageHandler) authorizeMailboxAccess(c *gin.Context, mailboxID string) bool {
	mb, err := h.mailboxes.Get(c.Request.Context(), mailboxID)
	if err != nil {
		writeDomainError(c, err)
		return false
	}

	return authorizeMailbox(c, mb)
}

type deliverMessageRequest struct {
	To      string `json:"to" binding:"required"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Raw     string `json:"raw"`
}

// deliverMessage godoc
// @Summary 投递邮件
// @Description 向临时邮箱投递一封邮件，过期或不存在的地址被拒绝
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body deliverMessageRequest true "邮件内容"
// @Success 201 {object} messageResponse
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Router /v1/messages [post]
func (h *MessageHandler) deliverMessage(c *gin.Context) {
	var req deliverMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	msg, err := h.messages.Deliver(c.Request.Context(), service.DeliverInput{
		To:       req.To,
		From:     req.From,
		Subject:  req.Subject,
		Text:     req.Text,
		HTML:     req.HTML,
		Raw:      req.Raw,
		Received: time.Now(),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Created(c, toMessageResponse(msg))
}

// listMessages godoc
// @Summary 获取邮件列表
// @Description 按接收时间倒序分页返回，过期邮箱的历史邮件仍可读取
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱ID"
// @Param page query int false "页码，从 1 开始"
// @Param pageSize query int false "每页数量，默认 20"
// @Success 200 {object} messageListResponse
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id}/messages [get]
func (h *MessageHandler) listMessages(c *gin.Context) {
	mailboxID := c.Param("id")
	if !h.authorizeMailboxAccess(c, mailboxID) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	result, err := h.messages.List(c.Request.Context(), mailboxID, page, pageSize)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	items := make([]messageResponse, 0, len(result.Messages))
	for i := range result.Messages {
		items = append(items, toMessageResponse(&result.Messages[i]))
	}

	Success(c, messageListResponse{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// getMessage godoc
// @Summary 获取邮件详情
// @Description 返回邮件元数据与正文内容
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱ID"
// @Param messageId path string true "邮件ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id}/messages/{messageId} [get]
func (h *MessageHandler) getMessage(c *gin.Context) {
	mailboxID := c.Param("id")
	if !h.authorizeMailboxAccess(c, mailboxID) {
		return
	}

	msg, err := h.messages.Get(c.Request.Context(), mailboxID, c.Param("messageId"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Success(c, toMessageResponse(msg))
}

// markMessageRead godoc
// @Summary 标记邮件已读
// @Tags Messages
// @Param id path string true "邮箱ID"
// @Param messageId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id}/messages/{messageId}/read [post]
func (h *MessageHandler) markMessageRead(c *gin.Context) {
	mailboxID := c.Param("id")
	if !h.authorizeMailboxAccess(c, mailboxID) {
		return
	}

	if err := h.messages.MarkRead(c.Request.Context(), mailboxID, c.Param("messageId")); err != nil {
		writeDomainError(c, err)
		return
	}

	NoContent(c)
}

// deleteMessage godoc
// @Summary 删除邮件
// @Description 删除邮件及其附件，释放对应的邮件配额
// @Tags Messages
// @Param id path string true "邮箱ID"
// @Param messageId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id}/messages/{messageId} [delete]
func (h *MessageHandler) deleteMessage(c *gin.Context) {
	mailboxID := c.Param("id")
	if !h.authorizeMailboxAccess(c, mailboxID) {
		return
	}

	if err := h.messages.Delete(c.Request.Context(), mailboxID, c.Param("messageId")); err != nil {
		writeDomainError(c, err)
		return
	}

	NoContent(c)
}

// downloadAttachment godoc
// @Summary 下载附件
// @Tags Messages
// @Produce octet-stream
// @Param id path string true "邮箱ID"
// @Param messageId path string true "邮件ID"
// @Param attachmentId path string true "附件ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{id}/messages/{messageId}/attachments/{attachmentId} [get]
func (h *MessageHandler) downloadAttachment(c *gin.Context) {
	mailboxID := c.Param("id")
	if !h.authorizeMailboxAccess(c, mailboxID) {
		return
	}

	att, err := h.messages.GetAttachment(c.Request.Context(), mailboxID, c.Param("messageId"), c.Param("attachmentId"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
	c.Data(http.StatusOK, contentType, att.Content)
}
