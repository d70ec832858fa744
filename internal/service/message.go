package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ephemail/backend/internal/config"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/storage"
)

// 正文文件名，与 filesystem 包的布局一致
const (
	bodyRaw  = "raw.eml"
	bodyHTML = "body.html"
	bodyText = "body.txt"
)

// MessageService 封装邮件投递与读取逻辑。
type MessageService struct {
	store     storage.Store
	mailboxes *MailboxService
	quota     *quota.Enforcer
	files     FileStore
	cfg       *config.Config
	log       *zap.Logger
	notifier  Notifier
	metrics   *monitoring.Metrics
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(
	store storage.Store,
	mailboxes *MailboxService,
	enforcer *quota.Enforcer,
	cfg *config.Config,
	log *zap.Logger,
) *MessageService {
	return &MessageService{
		store:     store,
		mailboxes: mailboxes,
		quota:     enforcer,
		cfg:       cfg,
		log:       log,
	}
}

// SetFileStore 设置邮件内容的文件存储（可选）。
func (s *MessageService) SetFileStore(files FileStore) {
	s.files = files
}

// SetNotifier 设置实时通知器（可选）。
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetMetrics 设置业务指标记录器（可选）。
func (s *MessageService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// DeliverInput 定义投递一封邮件的输入。
type DeliverInput struct {
	To          string // 收件地址，用于解析目标邮箱
	From        string
	Subject     string
	Text        string
	HTML        string
	Raw         string
	Received    time.Time
	Attachments []*domain.Attachment
}

// Deliver 向临时邮箱投递一封邮件。
//
// 投递前先解析邮箱：不存在或已过期的地址直接拒绝，
// 过期判定在解析路径里惰性完成。邮件按配置计入用户配额。
func (s *MessageService) Deliver(ctx context.Context, input DeliverInput) (*domain.Message, error) {
	mb, err := s.mailboxes.Resolve(ctx, input.To)
	if err != nil {
		return nil, err
	}

	weight := s.cfg.Quota.MessageWeight
	if weight > 0 {
		if _, err := s.quota.Reserve(ctx, mb.UserID, weight); err != nil {
			return nil, err
		}
	}

	if input.Received.IsZero() {
		input.Received = time.Now().UTC()
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		MailboxID:   mb.ID,
		From:        input.From,
		To:          input.To,
		Subject:     input.Subject,
		ReceivedAt:  input.Received,
		HasRaw:      input.Raw != "",
		HasHTML:     input.HTML != "",
		HasText:     input.Text != "",
		Text:        input.Text,
		HTML:        input.HTML,
		Raw:         input.Raw,
		Attachments: input.Attachments,
	}

	if s.files != nil {
		if err := s.persistContent(message); err != nil {
			s.releaseMessageQuota(ctx, mb.UserID, weight)
			return nil, err
		}
	}

	if err := s.store.SaveMessage(ctx, message); err != nil {
		s.releaseMessageQuota(ctx, mb.UserID, weight)
		if s.files != nil {
			_ = s.files.DeleteMessage(mb.ID, message.ID)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordMessageDelivered()
	}
	s.log.Info("message delivered",
		zap.String("mailbox_id", mb.ID),
		zap.String("message_id", message.ID),
		zap.String("from", message.From),
	)

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(mb.ID, message)
	}

	return message, nil
}

// List 分页列出邮箱中的邮件（过期邮箱的历史仍可读）。
func (s *MessageService) List(ctx context.Context, mailboxID string, page, pageSize int) (*domain.MessagePage, error) {
	if _, err := s.mailboxes.Get(ctx, mailboxID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, mailboxID, page, pageSize)
}

// Get 获取单封邮件详情，按需从文件存储加载正文。
func (s *MessageService) Get(ctx context.Context, mailboxID, messageID string) (*domain.Message, error) {
	message, err := s.store.GetMessage(ctx, mailboxID, messageID)
	if err != nil {
		return nil, err
	}

	if s.files != nil {
		if message.HasRaw {
			if raw, err := s.files.LoadBody(mailboxID, messageID, bodyRaw); err == nil {
				message.Raw = string(raw)
			}
		}
		if message.HasHTML {
			if html, err := s.files.LoadBody(mailboxID, messageID, bodyHTML); err == nil {
				message.HTML = string(html)
			}
		}
		if message.HasText {
			if text, err := s.files.LoadBody(mailboxID, messageID, bodyText); err == nil {
				message.Text = string(text)
			}
		}
	}

	return message, nil
}

// GetAttachment 获取附件内容。
func (s *MessageService) GetAttachment(ctx context.Context, mailboxID, messageID, attachmentID string) (*domain.Attachment, error) {
	message, err := s.store.GetMessage(ctx, mailboxID, messageID)
	if err != nil {
		return nil, err
	}

	for _, att := range message.Attachments {
		if att.ID != attachmentID {
			continue
		}
		if s.files != nil && att.StoragePath != "" {
			content, err := s.files.LoadAttachment(att.StoragePath)
			if err != nil {
				return nil, err
			}
			att.Content = content
		}
		return att, nil
	}

	return nil, domain.ErrMessageNotFound
}

// MarkRead 将邮件标记为已读。
func (s *MessageService) MarkRead(ctx context.Context, mailboxID, messageID string) error {
	if err := s.store.MarkMessageRead(ctx, mailboxID, messageID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordMessageRead()
	}
	return nil
}

// Delete 删除单封邮件并退还其配额。
func (s *MessageService) Delete(ctx context.Context, mailboxID, messageID string) error {
	if err := s.store.DeleteMessage(ctx, mailboxID, messageID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordMessageDeleted()
	}

	if s.files != nil {
		if err := s.files.DeleteMessage(mailboxID, messageID); err != nil {
			s.log.Warn("failed to delete message files",
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
	}

	if s.cfg.Quota.MessageWeight > 0 {
		mb, err := s.store.GetMailbox(ctx, mailboxID)
		if err == nil {
			s.releaseMessageQuota(ctx, mb.UserID, s.cfg.Quota.MessageWeight)
		}
	}

	return nil
}

// persistContent 把正文与附件写进文件存储，数据库只留标记。
func (s *MessageService) persistContent(message *domain.Message) error {
	mailboxID, messageID := message.MailboxID, message.ID

	if message.HasRaw {
		if err := s.files.SaveBody(mailboxID, messageID, bodyRaw, []byte(message.Raw)); err != nil {
			return err
		}
	}
	if message.HasHTML {
		if err := s.files.SaveBody(mailboxID, messageID, bodyHTML, []byte(message.HTML)); err != nil {
			return err
		}
	}
	if message.HasText {
		if err := s.files.SaveBody(mailboxID, messageID, bodyText, []byte(message.Text)); err != nil {
			return err
		}
	}

	stored := make([]*domain.Attachment, 0, len(message.Attachments))
	for _, att := range message.Attachments {
		if att == nil {
			continue
		}
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.MessageID = messageID
		if att.Size == 0 {
			att.Size = int64(len(att.Content))
		}

		path, err := s.files.SaveAttachment(mailboxID, messageID, att)
		if err != nil {
			return err
		}

		// 内容只留在文件系统
		stored = append(stored, &domain.Attachment{
			ID:          att.ID,
			MessageID:   messageID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			StoragePath: path,
		})
	}
	message.Attachments = stored

	return nil
}

func (s *MessageService) releaseMessageQuota(ctx context.Context, userID string, weight int64) {
	if weight <= 0 {
		return
	}
	if err := s.quota.Release(ctx, userID, weight); err != nil {
		s.log.Error("failed to release message quota",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
