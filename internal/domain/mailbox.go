package domain

import "time"

// Mailbox 表示一次性临时邮箱的业务实体。
//
// 生命周期：Provisioned（is_active=true）→ Expired（is_active=false，
// 仅可读取历史邮件）→ Purged（从持久存储删除）。
// ExpiresAt 在创建时固定为 CreatedAt + TTL，之后不会被任何操作延长。
type Mailbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive" gorm:"default:true;index"`
}

// ExpiredAt 判断邮箱在给定时刻是否已过期。
//
// 过期是惰性判定的：这里只做时间比较，is_active 的翻转
// 由生命周期管理器在第一次观察到过期时写回存储。
func (m *Mailbox) ExpiredAt(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}
