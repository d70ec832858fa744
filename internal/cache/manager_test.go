package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ephemail/backend/internal/config"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		TableStructureTTL: 24 * time.Hour,
		MailboxIDTTL:      30 * time.Second,
		UserQuotaTTL:      30 * time.Second,
		SystemStatsTTL:    5 * time.Minute,
	}
}

func TestManagerGetSet(t *testing.T) {
	m := NewManager(testConfig())

	t.Run("写入后可读取", func(t *testing.T) {
		m.Set(MailboxIDs, "a@ephem.mail", "mailbox-1", 0)

		val, ok := m.Get(MailboxIDs, "a@ephem.mail")
		assert.True(t, ok)
		assert.Equal(t, "mailbox-1", val)
	})

	t.Run("未写入的键未命中", func(t *testing.T) {
		_, ok := m.Get(MailboxIDs, "missing@ephem.mail")
		assert.False(t, ok)
	})

	t.Run("命名空间互相独立", func(t *testing.T) {
		m.Set(UserQuotas, "shared-key", int64(7), 0)

		_, ok := m.Get(SystemStats, "shared-key")
		assert.False(t, ok)

		val, ok := m.Get(UserQuotas, "shared-key")
		assert.True(t, ok)
		assert.Equal(t, int64(7), val)
	})
}

func TestManagerLazyExpiry(t *testing.T) {
	now := time.Now()
	m := NewManager(testConfig()).WithClock(func() time.Time { return now })

	m.Set(MailboxIDs, "key", "value", 10*time.Second)

	t.Run("TTL内命中", func(t *testing.T) {
		now = now.Add(9 * time.Second)
		_, ok := m.Get(MailboxIDs, "key")
		assert.True(t, ok)
	})

	t.Run("超过TTL视为未命中并删除", func(t *testing.T) {
		now = now.Add(2 * time.Second)
		_, ok := m.Get(MailboxIDs, "key")
		assert.False(t, ok)

		// 即使时间回拨，条目也已被删除
		now = now.Add(-5 * time.Second)
		_, ok = m.Get(MailboxIDs, "key")
		assert.False(t, ok)
	})

	t.Run("零TTL参数使用命名空间默认值", func(t *testing.T) {
		m.Set(SystemStats, "stats", "snapshot", 0)

		now = now.Add(4 * time.Minute)
		_, ok := m.Get(SystemStats, "stats")
		assert.True(t, ok)

		now = now.Add(2 * time.Minute)
		_, ok = m.Get(SystemStats, "stats")
		assert.False(t, ok)
	})
}

func TestManagerInvalidate(t *testing.T) {
	m := NewManager(testConfig())

	m.Set(UserQuotas, "user-1", int64(1), 0)
	m.Set(UserQuotas, "user-2", int64(2), 0)

	t.Run("单键失效", func(t *testing.T) {
		m.Invalidate(UserQuotas, "user-1")

		_, ok := m.Get(UserQuotas, "user-1")
		assert.False(t, ok)
		_, ok = m.Get(UserQuotas, "user-2")
		assert.True(t, ok)
	})

	t.Run("清空整个命名空间", func(t *testing.T) {
		m.InvalidateAll(UserQuotas)

		_, ok := m.Get(UserQuotas, "user-2")
		assert.False(t, ok)
	})
}

func TestManagerStats(t *testing.T) {
	m := NewManager(testConfig())

	m.Set(MailboxIDs, "hit", "v", 0)
	m.Get(MailboxIDs, "hit")
	m.Get(MailboxIDs, "miss")

	stats := m.StatsFor(MailboxIDs)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager(testConfig())

	// 并发读写删同一个键，不要求观察到一致的值，只要求不竞争崩溃
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch n % 3 {
				case 0:
					m.Set(MailboxIDs, "contended", n, 0)
				case 1:
					m.Get(MailboxIDs, "contended")
				default:
					m.Invalidate(MailboxIDs, "contended")
				}
			}
		}(i)
	}
	wg.Wait()
}
