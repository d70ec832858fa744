package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/service"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgAuthRequired       = "需要登录认证"
	MsgMailboxNotFound    = "邮箱不存在"
	MsgMailboxExpired     = "邮箱已过期"
	MsgQuotaExceeded      = "配额已用完"
	MsgStoreUnavailable   = "存储暂时不可用，请稍后重试"
	MsgMessageNotFound    = "邮件不存在"
	MsgAttachmentNotFound = "附件不存在"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// writeDomainError 将业务错误映射为 HTTP 响应
//
// 哨兵错误逐个映射，未识别的错误一律归为 500，
// 不向客户端泄漏内部错误文本。
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrMailboxNotFound):
		NotFound(c, MsgMailboxNotFound)
	case errors.Is(err, domain.ErrMailboxExpired):
		Gone(c, MsgMailboxExpired)
	case errors.Is(err, domain.ErrMessageNotFound):
		NotFound(c, MsgMessageNotFound)
	case errors.Is(err, domain.ErrUserNotFound):
		NotFound(c, "用户不存在")
	case errors.Is(err, domain.ErrQuotaExceeded):
		TooManyRequests(c, MsgQuotaExceeded)
	case errors.Is(err, domain.ErrEmailExists):
		Conflict(c, "邮箱地址已被占用")
	case errors.Is(err, domain.ErrStoreUnavailable):
		ServiceUnavailable(c, MsgStoreUnavailable)
	case errors.Is(err, domain.ErrInvalidAddress):
		BadRequest(c, "邮箱地址格式无效")
	case errors.Is(err, service.ErrDomainNotAllowed):
		BadRequest(c, "域名不在允许列表中")
	case errors.Is(err, service.ErrPrefixInvalid):
		BadRequest(c, "邮箱前缀格式无效")
	case errors.Is(err, service.ErrUnknownTable):
		NotFound(c, "数据表不存在")
	case errors.Is(err, service.ErrSchemaUnsupported):
		NotFound(c, "当前存储不支持表结构查询")
	default:
		InternalError(c, MsgInternalError)
	}
}
