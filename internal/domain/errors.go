package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMailboxNotFound 邮箱不存在。
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMailboxExpired 邮箱已过期，行仍存在但不再接收邮件。
	ErrMailboxExpired = errors.New("mailbox expired")
	// ErrMessageNotFound 邮件不存在。
	ErrMessageNotFound = errors.New("message not found")
	// ErrUserNotFound 用户不存在。
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailExists 邮箱地址已被占用（存储层唯一约束冲突）。
	ErrEmailExists = errors.New("email address already exists")
	// ErrUsernameExists 用户名已被占用。
	ErrUsernameExists = errors.New("username already exists")
	// ErrQuotaExceeded 配额不足，用户需要释放容量。
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrStoreUnavailable 持久存储暂时不可用（超时或连接失败），调用方可退避重试。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidAddress 邮箱地址格式非法，本地拒绝，不会重试。
	ErrInvalidAddress = errors.New("invalid email address")
)

// RateLimitError 表示请求被限流拒绝。
//
// 携带窗口重置时刻与剩余额度，便于表示层向用户反馈节流信息。
type RateLimitError struct {
	Key       string
	Remaining int64
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, resets at %s", e.Key, e.ResetTime.UTC().Format(time.RFC3339))
}

// IsRateLimited 判断错误是否为限流拒绝。
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
