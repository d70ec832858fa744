package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ephemail/backend/internal/config"
)

// CounterStore 基于 Redis 的限流计数存储
//
// 每个窗口计数是一个独立的 Redis 键，INCR 提供跨进程的原子递增，
// EXPIRE 让计数自然过期，不需要任何后台清理任务。
type CounterStore struct {
	rdb *goredis.Client
	log *zap.Logger
}

// NewCounterStore 创建 Redis 计数存储并验证连接。
func NewCounterStore(cfg config.RedisConfig, log *zap.Logger) (*CounterStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &CounterStore{rdb: rdb, log: log}, nil
}

// IncrementRateLimit 原子递增计数并在首次写入时设置过期时间。
//
// INCR 与 EXPIRE 在同一个 pipeline 中发出，EXPIRE 使用 NX 语义的
// 替代做法：仅当 INCR 结果为 1（即本窗口的第一次请求）时过期时间
// 才有意义，重复设置只会把过期时间推后到窗口边界之外一点，对
// 固定窗口的正确性没有影响，因为窗口起点已经编码在键里。
func (s *CounterStore) IncrementRateLimit(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val(), nil
}

// Ping 检查 Redis 连通性，供健康检查使用。
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (s *CounterStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	s.log.Info("Redis connection closed")
	return nil
}
