package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/storage"
)

// Limiter 固定窗口限流器
//
// 窗口边界为 floor(now/window)*window，计数器键内编码了窗口起点，
// 因此同一个键在相邻窗口使用不同的计数器，过期计数依赖存储的 TTL
// 自动消失，状态为 O(1)。
//
// 已知取舍：窗口边界处的突发最多允许 2*limit 个请求落在一个
// 墙钟窗口长度内，这是固定窗口相对滑动窗口换取简单性的代价。
type Limiter struct {
	counters storage.RateLimitRepository
	policy   domain.FailurePolicy
	log      *zap.Logger
	now      func() time.Time
}

// New 创建限流器
//
// policy 决定计数存储不可用时的行为：FailOpen 放行并记录告警，
// FailClosed 返回 StoreUnavailable 由调用方拒绝请求。
func New(counters storage.RateLimitRepository, policy domain.FailurePolicy, log *zap.Logger) *Limiter {
	return &Limiter{
		counters: counters,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// WithClock 替换时间源，仅用于测试。
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check 对一个键执行限流判定
//
// 计数先递增后判定：allowed = count <= limit。判定本身没有副作用，
// 唯一的状态变更是计数器递增。返回的上下文只在本次请求内有效。
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (domain.RateLimitContext, error) {
	now := l.now()
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	windowStart := (now.Unix() / windowSeconds) * windowSeconds
	resetTime := time.Unix(windowStart+windowSeconds, 0)

	rl := domain.RateLimitContext{
		Key:       key,
		Limit:     limit,
		Window:    windowSeconds,
		ResetTime: resetTime,
	}

	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)
	count, err := l.counters.IncrementRateLimit(ctx, counterKey, window)
	if err != nil {
		if l.policy == domain.FailOpen {
			// 可用性优先：计数存储不可用时放行，但必须告警
			l.log.Warn("rate limit counter store unavailable, failing open",
				zap.String("key", key),
				zap.Error(err),
			)
			rl.Allowed = true
			rl.Remaining = limit
			return rl, nil
		}
		return rl, domain.ErrStoreUnavailable
	}

	rl.Count = count
	rl.Allowed = count <= limit
	if remaining := limit - count; remaining > 0 {
		rl.Remaining = remaining
	}

	return rl, nil
}
