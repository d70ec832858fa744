package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ephemail/backend/internal/cache"
	"ephemail/backend/internal/config"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/storage"
)

var (
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrPrefixInvalid    = errors.New("prefix invalid")
)

// MailboxService 管理临时邮箱的完整生命周期。
//
// 生命周期状态由持久存储承载，缓存只是加速层：
// 任何缓存条目丢失后，操作结果保持不变。过期是惰性判定的，
// 没有后台扫描线程，is_active 在第一次被观察到过期时写回。
type MailboxService struct {
	store     storage.Store
	quota     *quota.Enforcer
	caches    *cache.Manager
	files     FileStore
	cfg       *config.Config
	log       *zap.Logger
	notifier  Notifier
	metrics   *monitoring.Metrics
	validator *domain.EmailValidator
	domainSet map[string]struct{}

	resolveGroup singleflight.Group
	now          func() time.Time
}

// Notifier 向实时订阅者推送新邮件通知。
type Notifier interface {
	NotifyNewMessage(mailboxID string, message *domain.Message)
}

// FileStore 邮件内容的文件存储接口。
//
// kind 取值见 filesystem 包的 BodyRaw / BodyHTML / BodyText。
type FileStore interface {
	SaveBody(mailboxID, messageID, kind string, content []byte) error
	LoadBody(mailboxID, messageID, kind string) ([]byte, error)
	SaveAttachment(mailboxID, messageID string, att *domain.Attachment) (string, error)
	LoadAttachment(storagePath string) ([]byte, error)
	DeleteMessage(mailboxID, messageID string) error
	DeleteMailbox(mailboxID string) error
}

// NewMailboxService 创建邮箱生命周期服务。
func NewMailboxService(
	store storage.Store,
	enforcer *quota.Enforcer,
	caches *cache.Manager,
	cfg *config.Config,
	log *zap.Logger,
) *MailboxService {
	domainSet := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domainSet[strings.ToLower(d)] = struct{}{}
	}

	return &MailboxService{
		store:     store,
		quota:     enforcer,
		caches:    caches,
		cfg:       cfg,
		log:       log,
		validator: domain.NewEmailValidator(),
		domainSet: domainSet,
		now:       time.Now,
	}
}

// SetFileStore 设置邮件内容的文件存储（可选）。
func (s *MailboxService) SetFileStore(files FileStore) {
	s.files = files
}

// SetNotifier 设置实时通知器（可选）。
func (s *MailboxService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetMetrics 设置业务指标记录器（可选）。
func (s *MailboxService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// WithClock 替换时间源，仅用于测试。
func (s *MailboxService) WithClock(now func() time.Time) *MailboxService {
	s.now = now
	return s
}

// CreateMailboxInput 定义创建邮箱所需的输入。
type CreateMailboxInput struct {
	UserID string
	Prefix string // 可选：指定本地部分，留空则随机生成
	Domain string // 可选：指定域名，留空则使用第一个允许的域名
}

// Create 创建新的临时邮箱。
//
// 顺序是先占配额后写存储：配额占用成功但地址生成或写入失败时，
// 配额会被原样释放。地址随机生成时冲突触发有限次重试，
// 显式指定前缀时冲突直接失败。
func (s *MailboxService) Create(ctx context.Context, input CreateMailboxInput) (*domain.Mailbox, error) {
	selectedDomain := s.pickDomain(input.Domain)
	if selectedDomain == "" {
		return nil, ErrDomainNotAllowed
	}

	explicit := input.Prefix != ""
	if explicit {
		if err := s.validator.ValidateLocalPart(strings.ToLower(input.Prefix)); err != nil {
			return nil, ErrPrefixInvalid
		}
	}

	weight := s.cfg.Quota.MailboxWeight
	if _, err := s.quota.Reserve(ctx, input.UserID, weight); err != nil {
		return nil, err
	}

	attempts := s.cfg.Mailbox.AddressAttempts
	if attempts < 1 {
		attempts = 1
	}
	if explicit {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		localPart := strings.ToLower(input.Prefix)
		if !explicit {
			localPart = randomLocalPart()
		}
		address := fmt.Sprintf("%s@%s", localPart, selectedDomain)

		now := s.now().UTC()
		mailbox := &domain.Mailbox{
			ID:        uuid.NewString(),
			Email:     address,
			UserID:    input.UserID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.Mailbox.TTL),
			IsActive:  true,
		}

		err := s.store.SaveMailbox(ctx, mailbox)
		if err == nil {
			s.caches.Set(cache.MailboxIDs, address, *mailbox, 0)
			if s.metrics != nil {
				s.metrics.RecordMailboxCreated()
			}
			s.log.Info("mailbox created",
				zap.String("mailbox_id", mailbox.ID),
				zap.String("email", address),
				zap.String("user_id", input.UserID),
				zap.Time("expires_at", mailbox.ExpiresAt),
			)
			return mailbox, nil
		}

		lastErr = err
		if !errors.Is(err, domain.ErrEmailExists) {
			break
		}
	}

	// 创建失败，退还配额
	if err := s.quota.Release(ctx, input.UserID, weight); err != nil {
		s.log.Error("failed to release quota after create failure",
			zap.String("user_id", input.UserID),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// Resolve 根据完整地址解析可投递的邮箱。
//
// 缓存优先；未命中时经 singleflight 合并回源，避免同一地址的
// 并发投递把存储打穿。已过期的邮箱在这里完成惰性失效并返回
// ErrMailboxExpired。
func (s *MailboxService) Resolve(ctx context.Context, email string) (*domain.Mailbox, error) {
	email = domain.NormalizeAddress(email)
	if email == "" {
		return nil, domain.ErrInvalidAddress
	}

	if val, ok := s.caches.Get(cache.MailboxIDs, email); ok {
		if mb, ok := val.(domain.Mailbox); ok {
			return s.checkDeliverable(ctx, &mb)
		}
		s.log.Warn("mailbox cache entry has unexpected type, invalidating",
			zap.String("email", email),
		)
		s.caches.Invalidate(cache.MailboxIDs, email)
	}

	val, err, _ := s.resolveGroup.Do(email, func() (interface{}, error) {
		mb, err := s.store.GetMailboxByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		s.caches.Set(cache.MailboxIDs, email, *mb, 0)
		return *mb, nil
	})
	if err != nil {
		return nil, err
	}

	mb := val.(domain.Mailbox)
	return s.checkDeliverable(ctx, &mb)
}

// checkDeliverable 判断邮箱是否仍可投递，过期时完成惰性失效。
func (s *MailboxService) checkDeliverable(ctx context.Context, mb *domain.Mailbox) (*domain.Mailbox, error) {
	if mb.ExpiredAt(s.now()) {
		s.expire(ctx, mb)
		return nil, domain.ErrMailboxExpired
	}
	if !mb.IsActive {
		return nil, domain.ErrMailboxExpired
	}
	return mb, nil
}

// expire 执行一次惰性过期：写回 is_active 并释放邮箱配额。
//
// MarkMailboxInactive 的翻转是恰好一次的，配额也只会
// 被释放一次，并发观察同一个过期邮箱是安全的。
func (s *MailboxService) expire(ctx context.Context, mb *domain.Mailbox) {
	flipped, err := s.store.MarkMailboxInactive(ctx, mb.ID)
	if err != nil {
		s.log.Warn("failed to write back mailbox expiry",
			zap.String("mailbox_id", mb.ID),
			zap.Error(err),
		)
		return
	}

	mb.IsActive = false
	s.caches.Set(cache.MailboxIDs, mb.Email, *mb, 0)

	if flipped {
		if s.metrics != nil {
			s.metrics.RecordMailboxExpired()
		}
		s.log.Info("mailbox expired",
			zap.String("mailbox_id", mb.ID),
			zap.String("email", mb.Email),
		)
		if err := s.quota.Release(ctx, mb.UserID, s.cfg.Quota.MailboxWeight); err != nil {
			s.log.Error("failed to release quota on expiry",
				zap.String("mailbox_id", mb.ID),
				zap.String("user_id", mb.UserID),
				zap.Error(err),
			)
		}
	}
}

// Get 根据 ID 获取邮箱。
//
// 过期邮箱仍然可读（历史邮件保留到显式销毁），这里只做
// 惰性失效写回，不报错。
func (s *MailboxService) Get(ctx context.Context, id string) (*domain.Mailbox, error) {
	mb, err := s.store.GetMailbox(ctx, id)
	if err != nil {
		return nil, err
	}
	if mb.IsActive && mb.ExpiredAt(s.now()) {
		s.expire(ctx, mb)
	}
	return mb, nil
}

// ListByUser 返回用户的全部邮箱。
func (s *MailboxService) ListByUser(ctx context.Context, userID string) ([]domain.Mailbox, error) {
	return s.store.ListMailboxesByUserID(ctx, userID)
}

// Destroy 销毁邮箱：删除全部邮件与文件并释放配额。
//
// 邮箱配额的释放走和惰性过期同一套恰好一次的翻转：只有赢得
// active→inactive 翻转的调用方才释放。快照 IsActive 再释放是
// 有竞态的——并发的 Resolve 可能在读与释放之间完成过期翻转并
// 释放，两边都释放会让配额计数偏低。邮件配额按剩余邮件数退还。
func (s *MailboxService) Destroy(ctx context.Context, id string) error {
	mb, err := s.store.GetMailbox(ctx, id)
	if err != nil {
		return err
	}

	flipped, err := s.store.MarkMailboxInactive(ctx, id)
	if err != nil {
		return err
	}
	if flipped {
		// 赢得翻转即拥有释放权，立刻归还：即使后面的删除失败，
		// 邮箱也已经 inactive，配额不能悬在一个不会再被惰性
		// 过期回收的邮箱上
		if err := s.quota.Release(ctx, mb.UserID, s.cfg.Quota.MailboxWeight); err != nil {
			s.log.Error("failed to release quota on destroy",
				zap.String("mailbox_id", id),
				zap.String("user_id", mb.UserID),
				zap.Error(err),
			)
		}
	}

	var release int64
	if s.cfg.Quota.MessageWeight > 0 {
		page, err := s.store.ListMessages(ctx, id, 1, 1)
		if err != nil {
			return err
		}
		release += s.cfg.Quota.MessageWeight * int64(page.Total)
	}

	if err := s.store.DeleteMailbox(ctx, id); err != nil {
		return err
	}

	s.caches.Invalidate(cache.MailboxIDs, mb.Email)

	if s.files != nil {
		if err := s.files.DeleteMailbox(id); err != nil {
			s.log.Warn("failed to delete mailbox files",
				zap.String("mailbox_id", id),
				zap.Error(err),
			)
		}
	}

	if release > 0 {
		if err := s.quota.Release(ctx, mb.UserID, release); err != nil {
			s.log.Error("failed to release message quota on destroy",
				zap.String("mailbox_id", id),
				zap.String("user_id", mb.UserID),
				zap.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordMailboxDestroyed(flipped)
	}
	s.log.Info("mailbox destroyed",
		zap.String("mailbox_id", id),
		zap.String("email", mb.Email),
	)
	return nil
}

// ReclaimExpired 回收一批已过期但尚未失效的邮箱。
//
// 这是可选的后台任务：系统的正确性完全由惰性过期保证，
// 该任务只是让长期无人访问的过期邮箱尽早归还配额。
func (s *MailboxService) ReclaimExpired(ctx context.Context, batchSize int) (int, error) {
	expired, err := s.store.ListExpiredActiveMailboxes(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	for i := range expired {
		s.expire(ctx, &expired[i])
	}
	return len(expired), nil
}

// pickDomain 挑选合法的邮箱域名。
func (s *MailboxService) pickDomain(requested string) string {
	if requested == "" {
		if len(s.cfg.Mailbox.AllowedDomains) == 0 {
			return ""
		}
		return strings.ToLower(s.cfg.Mailbox.AllowedDomains[0])
	}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := s.domainSet[requested]; ok {
		return requested
	}
	return ""
}

// randomLocalPart 生成随机邮箱前缀。
func randomLocalPart() string {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")
	return base[:12]
}
