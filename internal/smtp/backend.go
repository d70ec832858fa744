package smtp

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/service"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：收件人必须解析到系统内
// 一个未过期的临时邮箱，其余地址一律 550 拒绝，不存在中继路径。
// 过期判定在 RCPT 阶段就完成（走惰性过期路径），垃圾流量
// 不会进入 DATA 阶段。
type Backend struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
	limiter   *ConnectionLimiter
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	mailboxes *service.MailboxService,
	messages *service.MessageService,
	limiter *ConnectionLimiter,
	log *zap.Logger,
) *Backend {
	return &Backend{
		mailboxes: mailboxes,
		messages:  messages,
		limiter:   limiter,
		log:       log,
	}
}

// SetMetrics 设置业务指标记录器（可选）。
func (b *Backend) SetMetrics(m *monitoring.Metrics) {
	b.metrics = m
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	if b.metrics != nil {
		b.metrics.SMTPConnectionOpened()
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
	released    bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受解析成功的收件地址：不存在返回 550 5.1.1，
// 已过期返回 550 5.2.1，存储不可用返回临时错误 451。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if !strings.Contains(addr, "@") {
		s.backend.recordRejectedRcpt()
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	_, err := s.backend.mailboxes.Resolve(context.Background(), addr)
	switch {
	case err == nil:
		s.recipients = append(s.recipients, addr)
		return nil
	case errors.Is(err, domain.ErrMailboxExpired):
		s.backend.recordRejectedRcpt()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 2, 1},
			Message:      "mailbox expired",
		}
	case errors.Is(err, domain.ErrMailboxNotFound):
		s.backend.recordRejectedRcpt()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	default:
		s.backend.log.Error("rcpt resolution failed",
			zap.String("to", addr),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
}

// Data 处理邮件内容并投递给每个收件人。
func (s *session) Data(r io.Reader) error {
	start := time.Now()
	if s.backend.metrics != nil {
		defer func() {
			s.backend.metrics.ObserveSMTPDelivery(time.Since(start))
		}()
	}

	rawBytes, err := io.ReadAll(io.LimitReader(r, 10<<20)) // 10MB
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message content",
		}
	}

	ctx := context.Background()
	for _, rcpt := range s.recipients {
		input := service.DeliverInput{
			To:          rcpt,
			From:        s.fromAddress,
			Subject:     parsed.Subject,
			Text:        parsed.Text,
			HTML:        parsed.HTML,
			Raw:         string(rawBytes),
			Attachments: parsed.Attachments,
		}

		if _, err := s.backend.messages.Deliver(ctx, input); err != nil {
			// RCPT 与 DATA 之间邮箱可能刚好过期或配额用尽
			if errors.Is(err, domain.ErrMailboxExpired) || errors.Is(err, domain.ErrQuotaExceeded) {
				s.backend.log.Info("message rejected at delivery",
					zap.String("to", rcpt),
					zap.Error(err),
				)
				continue
			}
			return err
		}
	}

	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	if !s.released {
		if s.backend.limiter != nil {
			s.backend.limiter.Release()
		}
		if s.backend.metrics != nil {
			s.backend.metrics.SMTPConnectionClosed()
		}
		s.released = true
	}
	return nil
}

func (b *Backend) recordRejectedRcpt() {
	if b.metrics != nil {
		b.metrics.RecordSMTPRejectedRcpt()
	}
}
