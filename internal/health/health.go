package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"ephemail/backend/internal/storage"
	"ephemail/backend/internal/storage/redis"
)

// Checker 健康检查器
//
// liveness 只反映进程自身状态，readiness 额外包含持久存储与
// Redis 计数存储的连通性。依赖短暂不可用时进程保持存活，
// 只从负载均衡摘除。
type Checker struct {
	handler healthcheck.Handler
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, counters *redis.CounterStore) *Checker {
	h := healthcheck.NewHandler()

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))

	h.AddReadinessCheck("store", func() error {
		return store.Health()
	})

	if counters != nil {
		h.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return counters.Ping(ctx)
		})
	}

	return &Checker{handler: h}
}

// LiveEndpoint 存活检查处理器
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查处理器
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.ReadyEndpoint(w, r)
}
