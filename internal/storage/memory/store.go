package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ephemail/backend/internal/domain"
)

// Store 使用内存保存全部数据，主要用于开发验证与测试。
//
// 所有方法在单个互斥锁下执行，因此配额的条件更新天然满足
// "比较并递增"的原子性要求。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User
	byUsername map[string]string                     // username -> userID
	mailboxes  map[string]*domain.Mailbox            // mailboxID -> mailbox
	byEmail    map[string]string                     // email -> mailboxID
	messages   map[string]map[string]*domain.Message // mailboxID -> messageID -> message

	rateLimits map[string]*rateLimitEntry
	nextPrune  time.Time
}

// rateLimitEntry 限流计数条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*domain.User),
		byUsername: make(map[string]string),
		mailboxes:  make(map[string]*domain.Mailbox),
		byEmail:    make(map[string]string),
		messages:   make(map[string]map[string]*domain.Message),
		rateLimits: make(map[string]*rateLimitEntry),
		nextPrune:  time.Now().Add(5 * time.Minute),
	}
}

// ========== MailboxRepository ==========

// SaveMailbox 保存邮箱，地址冲突时返回 ErrEmailExists。
func (s *Store) SaveMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[mailbox.Email]; ok {
		return domain.ErrEmailExists
	}

	clone := *mailbox
	s.mailboxes[mailbox.ID] = &clone
	s.byEmail[mailbox.Email] = mailbox.ID
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	clone := *mb
	return &clone, nil
}

// GetMailboxByEmail 根据完整地址获取邮箱。
func (s *Store) GetMailboxByEmail(_ context.Context, email string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	clone := *s.mailboxes[id]
	return &clone, nil
}

// MarkMailboxInactive 将 is_active 置为 false。
//
// 转换是单向的：已经 inactive 的邮箱保持 inactive，
// 返回值表示本次调用是否完成了翻转。
func (s *Store) MarkMailboxInactive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return false, domain.ErrMailboxNotFound
	}
	flipped := mb.IsActive
	mb.IsActive = false
	return flipped, nil
}

// ListMailboxesByUserID 返回指定用户的全部邮箱。
func (s *Store) ListMailboxesByUserID(_ context.Context, userID string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.UserID == userID {
			result = append(result, *mb)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteMailbox 删除邮箱并级联删除其全部邮件。
func (s *Store) DeleteMailbox(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	delete(s.byEmail, mb.Email)
	delete(s.mailboxes, id)
	delete(s.messages, id)
	return nil
}

// ListExpiredActiveMailboxes 返回已过期但尚未标记为 inactive 的邮箱。
func (s *Store) ListExpiredActiveMailboxes(_ context.Context, now time.Time, limit int) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.IsActive && mb.ExpiredAt(now) {
			result = append(result, *mb)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// ========== MessageRepository ==========

// SaveMessage 保存邮件信息。
func (s *Store) SaveMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[message.MailboxID]; !ok {
		return domain.ErrMailboxNotFound
	}

	if _, ok := s.messages[message.MailboxID]; !ok {
		s.messages[message.MailboxID] = make(map[string]*domain.Message)
	}
	clone := *message
	s.messages[message.MailboxID][message.ID] = &clone
	return nil
}

// ListMessages 返回某个邮箱下的分页邮件列表，按接收时间倒序。
func (s *Store) ListMessages(_ context.Context, mailboxID string, page, pageSize int) (*domain.MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.mailboxes[mailboxID]; !ok {
		return nil, domain.ErrMailboxNotFound
	}

	msgMap := s.messages[mailboxID]
	all := make([]domain.Message, 0, len(msgMap))
	for _, msg := range msgMap {
		all = append(all, *msg)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ReceivedAt.After(all[j].ReceivedAt)
	})

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return &domain.MessagePage{
		Messages: all[start:end],
		Total:    len(all),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(_ context.Context, mailboxID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[mailboxID][messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	clone := *msg
	return &clone, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(_ context.Context, mailboxID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[mailboxID][messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// DeleteMessage 删除单封邮件。
func (s *Store) DeleteMessage(_ context.Context, mailboxID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[mailboxID][messageID]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(s.messages[mailboxID], messageID)
	return nil
}

// ========== UserRepository ==========

// CreateUser 创建用户，用户名冲突时返回 ErrUsernameExists。
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[user.Username]; ok {
		return domain.ErrUsernameExists
	}
	clone := *user
	s.users[user.ID] = &clone
	s.byUsername[user.Username] = user.ID
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// GetUserByUsername 根据用户名获取用户。
func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

// UpdateLastLogin 更新最近登录时间。
func (s *Store) UpdateLastLogin(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return nil
}

// ========== QuotaRepository ==========

// GetQuotaUsage 返回用户当前的配额占用。
func (s *Store) GetQuotaUsage(_ context.Context, userID string) (domain.QuotaUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.QuotaUsage{}, domain.ErrUserNotFound
	}
	return domain.QuotaUsage{UserID: userID, Used: user.QuotaUsed, Limit: user.Quota}, nil
}

// TryReserveQuota 原子地尝试占用配额。
//
// 整个比较并递增在写锁内完成，并发调用不可能同时越过上限。
func (s *Store) TryReserveQuota(_ context.Context, userID string, amount int64) (domain.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.QuotaUsage{}, domain.ErrUserNotFound
	}

	if user.QuotaUsed+amount > user.Quota {
		return domain.QuotaUsage{UserID: userID, Used: user.QuotaUsed, Limit: user.Quota},
			domain.ErrQuotaExceeded
	}

	user.QuotaUsed += amount
	return domain.QuotaUsage{UserID: userID, Used: user.QuotaUsed, Limit: user.Quota}, nil
}

// ReleaseQuota 释放配额，计数钳制到 0。
func (s *Store) ReleaseQuota(_ context.Context, userID string, amount int64) (domain.QuotaUsage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.QuotaUsage{}, false, domain.ErrUserNotFound
	}

	clamped := false
	if amount > user.QuotaUsed {
		clamped = true
		user.QuotaUsed = 0
	} else {
		user.QuotaUsed -= amount
	}

	return domain.QuotaUsage{UserID: userID, Used: user.QuotaUsed, Limit: user.Quota}, clamped, nil
}

// ========== RateLimitRepository ==========

// IncrementRateLimit 原子递增限流计数。
func (s *Store) IncrementRateLimit(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneRateLimitsLocked(now)

	e, ok := s.rateLimits[key]
	if !ok || now.After(e.ExpiresAt) {
		e = &rateLimitEntry{ExpiresAt: now.Add(ttl)}
		s.rateLimits[key] = e
	}
	e.Count++
	return e.Count, nil
}

// pruneRateLimitsLocked 定期清除过期计数，避免键无限增长。
func (s *Store) pruneRateLimitsLocked(now time.Time) {
	if now.Before(s.nextPrune) {
		return
	}
	for key, e := range s.rateLimits {
		if now.After(e.ExpiresAt) {
			delete(s.rateLimits, key)
		}
	}
	s.nextPrune = now.Add(5 * time.Minute)
}

// ========== StatsRepository ==========

// GetSystemStatistics 汇总系统统计信息。
func (s *Store) GetSystemStatistics(_ context.Context) (*domain.SystemStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.SystemStatistics{
		TotalUsers:     len(s.users),
		TotalMailboxes: len(s.mailboxes),
		GeneratedAt:    time.Now().UTC(),
	}

	now := time.Now()
	for _, mb := range s.mailboxes {
		if mb.IsActive && !mb.ExpiredAt(now) {
			stats.ActiveMailboxes++
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, msgs := range s.messages {
		stats.TotalMessages += len(msgs)
		for _, msg := range msgs {
			if !msg.ReceivedAt.Before(today) {
				stats.MessagesToday++
			}
		}
	}

	for _, user := range s.users {
		stats.QuotaReserved += user.QuotaUsed
	}

	return stats, nil
}

// ========== 工具方法 ==========

// Close 关闭存储（内存实现为空操作）。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查（内存实现恒为健康）。
func (s *Store) Health() error {
	return nil
}
