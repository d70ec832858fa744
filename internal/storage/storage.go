package storage

import (
	"context"
	"time"

	"ephemail/backend/internal/domain"
)

// MailboxRepository 定义邮箱数据存取操作。
//
// 实现必须对 mailboxes.email 维护唯一约束，冲突时返回
// domain.ErrEmailExists；超时或连接失败映射为 domain.ErrStoreUnavailable。
type MailboxRepository interface {
	SaveMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	GetMailboxByEmail(ctx context.Context, email string) (*domain.Mailbox, error)
	// MarkMailboxInactive 将 is_active 置为 false（惰性过期的写回路径）。
	// 返回值表示本次调用是否真正完成了 active→inactive 的翻转；
	// 翻转是单向且恰好一次的，调用方据此决定是否释放配额。
	MarkMailboxInactive(ctx context.Context, id string) (bool, error)
	ListMailboxesByUserID(ctx context.Context, userID string) ([]domain.Mailbox, error)
	// DeleteMailbox 删除邮箱并级联删除其邮件与附件。
	DeleteMailbox(ctx context.Context, id string) error
	// ListExpiredActiveMailboxes 返回已过期但 is_active 仍为 true 的邮箱，
	// 供可选的配额回收任务使用；正确性不依赖该方法。
	ListExpiredActiveMailboxes(ctx context.Context, now time.Time, limit int) ([]domain.Mailbox, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, mailboxID string, page, pageSize int) (*domain.MessagePage, error)
	GetMessage(ctx context.Context, mailboxID, messageID string) (*domain.Message, error)
	MarkMessageRead(ctx context.Context, mailboxID, messageID string) error
	DeleteMessage(ctx context.Context, mailboxID, messageID string) error
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

// QuotaRepository 定义配额计数的原子操作。
//
// TryReserveQuota 是整个系统里唯一要求真正的"比较并递增"原语的
// 操作：只有在 used + amount <= quota 时递增才能成功，并发调用
// 不允许同时越过上限。实现要么使用存储自身的条件更新，要么按
// 用户加锁串行化。
type QuotaRepository interface {
	GetQuotaUsage(ctx context.Context, userID string) (domain.QuotaUsage, error)
	// TryReserveQuota 原子地尝试占用 amount 个配额单位；
	// 超出上限时返回 domain.ErrQuotaExceeded，计数不变。
	TryReserveQuota(ctx context.Context, userID string, amount int64) (domain.QuotaUsage, error)
	// ReleaseQuota 释放 amount 个配额单位，计数最低钳制到 0。
	// 第二个返回值表示释放是否发生了钳制（配额账目不一致的信号）。
	ReleaseQuota(ctx context.Context, userID string, amount int64) (domain.QuotaUsage, bool, error)
}

// RateLimitRepository 定义限流计数器操作。
//
// 计数器按键原子递增；键内已编码窗口起点，ttl 只用于让
// 过期窗口的计数自动消失。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// StatsRepository 定义系统统计查询。
type StatsRepository interface {
	GetSystemStatistics(ctx context.Context) (*domain.SystemStatistics, error)
}

// SchemaRepository 是可选的表结构自省能力。
//
// 只有 SQL 存储实现它；调用方通过类型断言探测，
// 内存存储不提供表结构。
type SchemaRepository interface {
	TableColumns(ctx context.Context, table string) ([]domain.TableColumn, error)
}

// Store 定义完整的持久存储接口。
type Store interface {
	MailboxRepository
	MessageRepository
	UserRepository
	QuotaRepository
	RateLimitRepository
	StatsRepository

	Close() error
	Health() error
}
