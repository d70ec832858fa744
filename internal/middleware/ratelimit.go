package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemail/backend/internal/config"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/ratelimit"
)

// 路由类别，每类有独立的限流规则。
const (
	ClassCreate  = "create"
	ClassResolve = "resolve"
	ClassRead    = "read"
	ClassMutate  = "mutate"
	ClassDeliver = "deliver"
)

// RateLimit HTTP 限流中间件
type RateLimit struct {
	limiter *ratelimit.Limiter
	cfg     config.RateLimitConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewRateLimit 创建限流中间件
func NewRateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig, metrics *monitoring.Metrics, log *zap.Logger) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// ForClass 返回某一路由类别的限流处理器
//
// 限流键为 `类别:调用方`，同一调用方在不同类别下的计数互不影响。
// 计数存储不可用时的行为由限流器的降级策略决定：fail-open 放行，
// fail-closed 返回 503。
func (rl *RateLimit) ForClass(class string) gin.HandlerFunc {
	rule, ok := rl.cfg.Rules[class]
	if !rl.cfg.Enabled || !ok {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := class + ":" + CallerKey(c)

		result, err := rl.limiter.Check(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				rl.log.Error("rate limit store unavailable, failing closed",
					zap.String("class", class),
					zap.String("key", key),
				)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error": "service temporarily unavailable",
				})
				c.Abort()
				return
			}
			// 未知错误按放行处理，限流不应放大故障
			rl.log.Error("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if rl.metrics != nil {
			rl.metrics.RecordRateLimit(class, result.Allowed)
		}

		if !result.Allowed {
			_ = c.Error(&domain.RateLimitError{
				Key:       key,
				Remaining: result.Remaining,
				ResetTime: result.ResetTime,
			})
			retryAfter := int64(time.Until(result.ResetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders 写入标准限流响应头
func setRateLimitHeaders(c *gin.Context, rl domain.RateLimitContext) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(rl.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetTime.Unix(), 10))
}
