package quota

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ephemail/backend/internal/cache"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/storage"
)

// Enforcer 配额执行器
//
// 持久存储是配额计数的唯一权威：缓存快照只用于快速路径的拒绝，
// 任何占用的增加都必须经过存储层的原子条件更新。并发的 Reserve
// 即使穿过同一份过期缓存，也只有容得下的那部分会成功。
//
// 故障策略固定为 fail-closed：存储不可用时拒绝请求，
// 绝不冒违反配额不变量的风险。
type Enforcer struct {
	repo    storage.QuotaRepository
	caches  *cache.Manager
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewEnforcer 创建配额执行器
func NewEnforcer(repo storage.QuotaRepository, caches *cache.Manager, log *zap.Logger) *Enforcer {
	return &Enforcer{
		repo:   repo,
		caches: caches,
		log:    log,
	}
}

// SetMetrics 设置业务指标记录器（可选）。
func (e *Enforcer) SetMetrics(m *monitoring.Metrics) {
	e.metrics = m
}

// Reserve 尝试为用户占用 amount 个配额单位
//
// 流程：
//  1. 查 userQuotas 缓存做快速路径拒绝——缓存里的占用加上 amount
//     已经超限时直接返回 QuotaExceeded，不触达存储。
//  2. 快速路径未拒绝时执行存储层条件更新（used += amount 仅当
//     used + amount <= quota），成功则刷新缓存条目。
//  3. 存储报告超限而缓存此前认为容得下，说明缓存已经过期，将其失效。
func (e *Enforcer) Reserve(ctx context.Context, userID string, amount int64) (domain.QuotaUsage, error) {
	if amount <= 0 {
		return e.usage(ctx, userID)
	}

	cachedFits := false
	if val, ok := e.caches.Get(cache.UserQuotas, userID); ok {
		if snapshot, ok := val.(domain.QuotaUsage); ok {
			if !snapshot.Fits(amount) {
				// 快速路径拒绝：过期缓存只允许用来拒绝，不允许用来放行
				e.recordRejection()
				return snapshot, domain.ErrQuotaExceeded
			}
			cachedFits = true
		}
	}

	usage, err := e.repo.TryReserveQuota(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			if cachedFits {
				// 缓存声称容得下但权威存储拒绝了：缓存已过期，强制下次回源
				e.caches.Invalidate(cache.UserQuotas, userID)
			}
			e.recordRejection()
			return usage, domain.ErrQuotaExceeded
		}
		return domain.QuotaUsage{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordQuotaReservation()
	}
	e.caches.Set(cache.UserQuotas, userID, usage, 0)
	return usage, nil
}

func (e *Enforcer) recordRejection() {
	if e.metrics != nil {
		e.metrics.RecordQuotaRejection()
	}
}

// Release 释放用户的 amount 个配额单位
//
// 释放后只失效缓存条目而不是在缓存里做减法：缓存减法会让漂移
// 不断累积，失效则强制下一次读取回源权威存储。
func (e *Enforcer) Release(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	usage, clamped, err := e.repo.ReleaseQuota(ctx, userID, amount)
	if err != nil {
		return err
	}

	if clamped {
		// 释放量超过了记录的占用：配额账目不一致，钳制到 0 并留痕
		e.log.Warn("quota release clamped at zero, bookkeeping inconsistency",
			zap.String("user_id", userID),
			zap.Int64("amount", amount),
			zap.Int64("used_after", usage.Used),
		)
	}

	e.caches.Invalidate(cache.UserQuotas, userID)
	return nil
}

// Usage 返回用户当前的配额占用，优先读缓存。
func (e *Enforcer) Usage(ctx context.Context, userID string) (domain.QuotaUsage, error) {
	return e.usage(ctx, userID)
}

func (e *Enforcer) usage(ctx context.Context, userID string) (domain.QuotaUsage, error) {
	if val, ok := e.caches.Get(cache.UserQuotas, userID); ok {
		if snapshot, ok := val.(domain.QuotaUsage); ok {
			return snapshot, nil
		}
		// 类型不符说明缓存被污染，按 CacheInconsistency 处理：
		// 记录、失效、回源，绝不让缓存故障影响用户可见的结果
		e.log.Error("unexpected value type in user quota cache, invalidating",
			zap.String("user_id", userID),
		)
		e.caches.Invalidate(cache.UserQuotas, userID)
	}

	usage, err := e.repo.GetQuotaUsage(ctx, userID)
	if err != nil {
		return domain.QuotaUsage{}, err
	}

	e.caches.Set(cache.UserQuotas, userID, usage, 0)
	return usage, nil
}
