package domain

import "time"

// UserRole 用户角色
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User 表示注册用户的业务实体
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username     string     `json:"username" gorm:"uniqueIndex;type:varchar(100);not null"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role         UserRole   `json:"role" gorm:"type:varchar(20);default:'user';index"`
	Quota        int64      `json:"quota" gorm:"default:3"`     // 配额上限（加权存储单位）
	QuotaUsed    int64      `json:"quotaUsed" gorm:"default:0"` // 已占用配额，只由存储层原子更新
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// QuotaUsage 表示某个用户的配额占用快照。
//
// 快照可能来自缓存（过期数据），只允许用于快速路径的拒绝判断，
// 任何配额的增加决策必须经过持久存储的条件更新。
type QuotaUsage struct {
	UserID string `json:"userId"`
	Used   int64  `json:"used"`
	Limit  int64  `json:"limit"`
}

// Remaining 返回剩余配额（不小于 0）。
func (q QuotaUsage) Remaining() int64 {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Fits 判断再占用 amount 个单位是否仍在配额内。
func (q QuotaUsage) Fits(amount int64) bool {
	return q.Used+amount <= q.Limit
}
