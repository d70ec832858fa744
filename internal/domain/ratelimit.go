package domain

import "time"

// RateLimitContext 记录一次限流判定的完整上下文。
//
// 固定窗口算法：窗口起点为 floor(now/window)*window，计数器
// 按 (key, windowStart) 原子递增，判定结果在请求结束后即失效，
// 持久化的只有计数器本身。
type RateLimitContext struct {
	Key       string    `json:"key"`       // 客户端标识 + 路由类别
	Count     int64     `json:"count"`     // 递增后的计数
	Limit     int64     `json:"limit"`     // 窗口内允许的最大请求数
	Window    int64     `json:"window"`    // 窗口长度（秒）
	Allowed   bool      `json:"allowed"`   // 是否放行
	Remaining int64     `json:"remaining"` // 剩余额度（不小于 0）
	ResetTime time.Time `json:"resetTime"` // 窗口结束时刻
}

// FailurePolicy 定义依赖故障时的降级策略。
type FailurePolicy string

const (
	// FailOpen 依赖不可用时放行请求（可用性优先，需记录告警日志）。
	FailOpen FailurePolicy = "open"
	// FailClosed 依赖不可用时拒绝请求（正确性优先）。
	FailClosed FailurePolicy = "closed"
)

// Valid 判断策略取值是否合法。
func (p FailurePolicy) Valid() bool {
	return p == FailOpen || p == FailClosed
}
