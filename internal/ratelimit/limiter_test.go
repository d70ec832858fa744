package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ephemail/backend/internal/domain"
)

// memCounters 测试用计数存储
type memCounters struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newMemCounters() *memCounters {
	return &memCounters{counts: make(map[string]int64)}
}

func (m *memCounters) IncrementRateLimit(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func TestLimiterFixedWindow(t *testing.T) {
	counters := newMemCounters()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	limiter := New(counters, domain.FailOpen, zap.NewNop()).
		WithClock(func() time.Time { return now })

	t.Run("窗口内前5次放行且剩余额度递减", func(t *testing.T) {
		for i := int64(1); i <= 5; i++ {
			rl, err := limiter.Check(context.Background(), "client:create", 5, time.Minute)
			require.NoError(t, err)
			assert.True(t, rl.Allowed)
			assert.Equal(t, 5-i, rl.Remaining)
		}
	})

	t.Run("第6次拒绝并携带窗口结束时刻", func(t *testing.T) {
		rl, err := limiter.Check(context.Background(), "client:create", 5, time.Minute)
		require.NoError(t, err)
		assert.False(t, rl.Allowed)
		assert.Equal(t, int64(0), rl.Remaining)
		assert.Equal(t, base.Add(time.Minute), rl.ResetTime)
	})

	t.Run("下一个窗口计数重新开始", func(t *testing.T) {
		now = base.Add(time.Minute)
		rl, err := limiter.Check(context.Background(), "client:create", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, rl.Allowed)
		assert.Equal(t, int64(4), rl.Remaining)
	})

	t.Run("不同键互不影响", func(t *testing.T) {
		rl, err := limiter.Check(context.Background(), "other:create", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, rl.Allowed)
		assert.Equal(t, int64(4), rl.Remaining)
	})
}

func TestLimiterWindowAlignment(t *testing.T) {
	counters := newMemCounters()
	// 非整分钟的时刻也要落入时钟对齐的窗口
	now := time.Date(2026, 8, 1, 12, 0, 37, 0, time.UTC)
	limiter := New(counters, domain.FailOpen, zap.NewNop()).
		WithClock(func() time.Time { return now })

	rl, err := limiter.Check(context.Background(), "k", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC), rl.ResetTime)
}

func TestLimiterFailurePolicy(t *testing.T) {
	t.Run("fail-open时存储故障放行", func(t *testing.T) {
		counters := newMemCounters()
		counters.err = errors.New("connection refused")
		limiter := New(counters, domain.FailOpen, zap.NewNop())

		rl, err := limiter.Check(context.Background(), "k", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, rl.Allowed)
		assert.Equal(t, int64(5), rl.Remaining)
	})

	t.Run("fail-closed时存储故障返回StoreUnavailable", func(t *testing.T) {
		counters := newMemCounters()
		counters.err = errors.New("connection refused")
		limiter := New(counters, domain.FailClosed, zap.NewNop())

		rl, err := limiter.Check(context.Background(), "k", 5, time.Minute)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, rl.Allowed)
	})
}

func TestLimiterConcurrentChecks(t *testing.T) {
	counters := newMemCounters()
	fixed := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)
	limiter := New(counters, domain.FailOpen, zap.NewNop()).
		WithClock(func() time.Time { return fixed })

	// 并发打满一个键：恰好 limit 次放行，其余拒绝
	const limit = 20
	const total = 50

	var wg sync.WaitGroup
	allowed := make(chan bool, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rl, err := limiter.Check(context.Background(), "contended", limit, time.Minute)
			require.NoError(t, err)
			allowed <- rl.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, limit, count)
}
