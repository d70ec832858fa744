package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ephemail/backend/internal/cache"
	"ephemail/backend/internal/config"
	"ephemail/backend/internal/domain"
)

// fakeQuotaRepo 可观测的配额存储测试替身
type fakeQuotaRepo struct {
	mu           sync.Mutex
	used         map[string]int64
	limit        map[string]int64
	reserveCalls int
	getCalls     int
	failAll      error
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{
		used:  make(map[string]int64),
		limit: make(map[string]int64),
	}
}

func (f *fakeQuotaRepo) setUser(userID string, used, limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used[userID] = used
	f.limit[userID] = limit
}

func (f *fakeQuotaRepo) GetQuotaUsage(_ context.Context, userID string) (domain.QuotaUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failAll != nil {
		return domain.QuotaUsage{}, f.failAll
	}
	limit, ok := f.limit[userID]
	if !ok {
		return domain.QuotaUsage{}, domain.ErrUserNotFound
	}
	return domain.QuotaUsage{UserID: userID, Used: f.used[userID], Limit: limit}, nil
}

func (f *fakeQuotaRepo) TryReserveQuota(_ context.Context, userID string, amount int64) (domain.QuotaUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	if f.failAll != nil {
		return domain.QuotaUsage{}, f.failAll
	}
	limit, ok := f.limit[userID]
	if !ok {
		return domain.QuotaUsage{}, domain.ErrUserNotFound
	}
	if f.used[userID]+amount > limit {
		return domain.QuotaUsage{UserID: userID, Used: f.used[userID], Limit: limit},
			domain.ErrQuotaExceeded
	}
	f.used[userID] += amount
	return domain.QuotaUsage{UserID: userID, Used: f.used[userID], Limit: limit}, nil
}

func (f *fakeQuotaRepo) ReleaseQuota(_ context.Context, userID string, amount int64) (domain.QuotaUsage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return domain.QuotaUsage{}, false, f.failAll
	}
	limit, ok := f.limit[userID]
	if !ok {
		return domain.QuotaUsage{}, false, domain.ErrUserNotFound
	}
	clamped := false
	if amount > f.used[userID] {
		clamped = true
		f.used[userID] = 0
	} else {
		f.used[userID] -= amount
	}
	return domain.QuotaUsage{UserID: userID, Used: f.used[userID], Limit: limit}, clamped, nil
}

func newTestEnforcer(repo *fakeQuotaRepo) (*Enforcer, *cache.Manager) {
	caches := cache.NewManager(config.CacheConfig{
		TableStructureTTL: time.Hour,
		MailboxIDTTL:      time.Minute,
		UserQuotaTTL:      time.Minute,
		SystemStatsTTL:    time.Minute,
	})
	return NewEnforcer(repo, caches, zap.NewNop()), caches
}

func TestEnforcer_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("成功占用并回填缓存", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 0, 3)
		enforcer, caches := newTestEnforcer(repo)

		usage, err := enforcer.Reserve(ctx, "user-1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage.Used)

		cached, ok := caches.Get(cache.UserQuotas, "user-1")
		require.True(t, ok)
		assert.Equal(t, int64(1), cached.(domain.QuotaUsage).Used)
	})

	t.Run("缓存快速路径拒绝时不访问存储", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 3, 3)
		enforcer, caches := newTestEnforcer(repo)
		caches.Set(cache.UserQuotas, "user-1", domain.QuotaUsage{UserID: "user-1", Used: 3, Limit: 3}, 0)

		_, err := enforcer.Reserve(ctx, "user-1", 1)
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
		assert.Equal(t, 0, repo.reserveCalls)
	})

	t.Run("缓存显示有余量但存储拒绝时失效缓存", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 3, 3)
		enforcer, caches := newTestEnforcer(repo)
		// 过期的快照：缓存认为还有余量
		caches.Set(cache.UserQuotas, "user-1", domain.QuotaUsage{UserID: "user-1", Used: 1, Limit: 3}, 0)

		_, err := enforcer.Reserve(ctx, "user-1", 1)
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
		assert.Equal(t, 1, repo.reserveCalls)

		_, ok := caches.Get(cache.UserQuotas, "user-1")
		assert.False(t, ok)
	})

	t.Run("存储是唯一权威_缓存缺失时仍然拒绝", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 3, 3)
		enforcer, _ := newTestEnforcer(repo)

		_, err := enforcer.Reserve(ctx, "user-1", 1)
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	})

	t.Run("并发占用成功数等于剩余余量", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 0, 5)
		enforcer, _ := newTestEnforcer(repo)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := enforcer.Reserve(ctx, "user-1", 1); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, succeeded)
		usage, err := repo.GetQuotaUsage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), usage.Used)
	})
}

func TestEnforcer_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("释放后缓存被失效而非递减", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 2, 3)
		enforcer, caches := newTestEnforcer(repo)
		caches.Set(cache.UserQuotas, "user-1", domain.QuotaUsage{UserID: "user-1", Used: 2, Limit: 3}, 0)

		require.NoError(t, enforcer.Release(ctx, "user-1", 1))

		_, ok := caches.Get(cache.UserQuotas, "user-1")
		assert.False(t, ok)

		usage, err := repo.GetQuotaUsage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage.Used)
	})

	t.Run("释放超过占用量钳制到零", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 1, 3)
		enforcer, _ := newTestEnforcer(repo)

		require.NoError(t, enforcer.Release(ctx, "user-1", 5))

		usage, err := repo.GetQuotaUsage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage.Used)
	})
}

func TestEnforcer_Usage(t *testing.T) {
	ctx := context.Background()

	t.Run("缓存命中时不访问存储", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 1, 3)
		enforcer, caches := newTestEnforcer(repo)
		caches.Set(cache.UserQuotas, "user-1", domain.QuotaUsage{UserID: "user-1", Used: 1, Limit: 3}, 0)

		usage, err := enforcer.Usage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage.Used)
		assert.Equal(t, 0, repo.getCalls)
	})

	t.Run("缓存未命中时读取存储并回填", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 2, 3)
		enforcer, caches := newTestEnforcer(repo)

		usage, err := enforcer.Usage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), usage.Used)

		_, ok := caches.Get(cache.UserQuotas, "user-1")
		assert.True(t, ok)
	})

	t.Run("缓存值类型损坏时回退到存储", func(t *testing.T) {
		repo := newFakeQuotaRepo()
		repo.setUser("user-1", 2, 3)
		enforcer, caches := newTestEnforcer(repo)
		caches.Set(cache.UserQuotas, "user-1", "not-a-usage", 0)

		usage, err := enforcer.Usage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), usage.Used)
		assert.Equal(t, 1, repo.getCalls)
	})
}
