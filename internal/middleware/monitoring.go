package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemail/backend/internal/monitoring"
)

// Monitoring 监控中间件
type Monitoring struct {
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewMonitoring 创建监控中间件
func NewMonitoring(metrics *monitoring.Metrics, log *zap.Logger) *Monitoring {
	return &Monitoring{
		metrics: metrics,
		log:     log,
	}
}

// HTTPMetrics HTTP 指标中间件
func (m *Monitoring) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		m.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)

		if c.Writer.Status() >= 500 {
			m.metrics.RecordError("http_error", "http")
		}
	}
}

// PanicRecovery panic 恢复中间件
func (m *Monitoring) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.metrics.RecordPanic()

				m.log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.Stack("stack"),
				)

				c.JSON(500, gin.H{
					"error": "internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
