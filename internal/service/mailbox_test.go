package service

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
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/storage/memory"
)

type testEnv struct {
	store    *memory.Store
	caches   *cache.Manager
	quota    *quota.Enforcer
	mailbox  *MailboxService
	messages *MessageService
	clock    *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			AllowedDomains:  []string{"ephemail.test", "alt.ephemail.test"},
			TTL:             time.Hour,
			AddressAttempts: 3,
		},
		Cache: config.CacheConfig{
			TableStructureTTL: 24 * time.Hour,
			MailboxIDTTL:      30 * time.Second,
			UserQuotaTTL:      30 * time.Second,
			SystemStatsTTL:    5 * time.Minute,
		},
		Quota: config.QuotaConfig{
			DefaultLimit:  3,
			MailboxWeight: 1,
			MessageWeight: 0,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := newTestConfig()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Now().UTC()}

	caches := cache.NewManager(cfg.Cache).WithClock(clock.Now)
	enforcer := quota.NewEnforcer(store, caches, zap.NewNop())
	mailbox := NewMailboxService(store, enforcer, caches, cfg, zap.NewNop()).WithClock(clock.Now)
	messages := NewMessageService(store, mailbox, enforcer, cfg, zap.NewNop())

	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID:        "user-1",
		Username:  "alice",
		Role:      domain.RoleUser,
		Quota:     3,
		CreatedAt: clock.Now(),
	}))

	return &testEnv{
		store:    store,
		caches:   caches,
		quota:    enforcer,
		mailbox:  mailbox,
		messages: messages,
		clock:    clock,
	}
}

func (e *testEnv) usedQuota(t *testing.T) int64 {
	t.Helper()
	usage, err := e.store.GetQuotaUsage(context.Background(), "user-1")
	require.NoError(t, err)
	return usage.Used
}

func TestMailboxService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("创建成功并占用配额", func(t *testing.T) {
		env := newTestEnv(t)

		mb, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)
		assert.True(t, mb.IsActive)
		assert.Equal(t, mb.CreatedAt.Add(time.Hour), mb.ExpiresAt)
		assert.Contains(t, mb.Email, "@ephemail.test")
		assert.Equal(t, int64(1), env.usedQuota(t))
	})

	t.Run("指定前缀与域名", func(t *testing.T) {
		env := newTestEnv(t)

		mb, err := env.mailbox.Create(ctx, CreateMailboxInput{
			UserID: "user-1",
			Prefix: "billing",
			Domain: "alt.ephemail.test",
		})
		require.NoError(t, err)
		assert.Equal(t, "billing@alt.ephemail.test", mb.Email)
	})

	t.Run("不允许的域名被拒绝", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.mailbox.Create(ctx, CreateMailboxInput{
			UserID: "user-1",
			Domain: "evil.example.com",
		})
		assert.ErrorIs(t, err, ErrDomainNotAllowed)
		assert.Equal(t, int64(0), env.usedQuota(t))
	})

	t.Run("非法前缀被拒绝", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.mailbox.Create(ctx, CreateMailboxInput{
			UserID: "user-1",
			Prefix: ".invalid.",
		})
		assert.ErrorIs(t, err, ErrPrefixInvalid)
	})

	t.Run("显式前缀冲突时退还配额", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1", Prefix: "taken"})
		require.NoError(t, err)
		require.Equal(t, int64(1), env.usedQuota(t))

		_, err = env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1", Prefix: "taken"})
		assert.ErrorIs(t, err, domain.ErrEmailExists)
		assert.Equal(t, int64(1), env.usedQuota(t))
	})

	t.Run("配额耗尽时拒绝创建", func(t *testing.T) {
		env := newTestEnv(t)

		for i := 0; i < 3; i++ {
			_, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
			require.NoError(t, err)
		}

		_, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
		assert.Equal(t, int64(3), env.usedQuota(t))
	})
}

func TestMailboxService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("解析新创建的邮箱", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		mb, err := env.mailbox.Resolve(ctx, created.Email)
		require.NoError(t, err)
		assert.Equal(t, created.ID, mb.ID)
	})

	t.Run("缓存清空后解析结果不变", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		env.caches.InvalidateAll(cache.MailboxIDs)

		mb, err := env.mailbox.Resolve(ctx, created.Email)
		require.NoError(t, err)
		assert.Equal(t, created.ID, mb.ID)
	})

	t.Run("地址大小写与尖括号被规范化", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1", Prefix: "norm"})
		require.NoError(t, err)

		mb, err := env.mailbox.Resolve(ctx, "  <NORM@EPHEMAIL.TEST> ")
		require.NoError(t, err)
		assert.Equal(t, created.ID, mb.ID)
	})

	t.Run("不存在的地址返回ErrMailboxNotFound", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.mailbox.Resolve(ctx, "ghost@ephemail.test")
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})
}

func TestMailboxService_LazyExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("过期邮箱在解析时惰性失效并释放配额", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)
		require.Equal(t, int64(1), env.usedQuota(t))

		env.clock.Advance(time.Hour + time.Minute)

		_, err = env.mailbox.Resolve(ctx, created.Email)
		assert.ErrorIs(t, err, domain.ErrMailboxExpired)

		stored, err := env.store.GetMailbox(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, int64(0), env.usedQuota(t))
	})

	t.Run("重复观察过期只释放一次配额", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)

		for i := 0; i < 3; i++ {
			_, err = env.mailbox.Resolve(ctx, created.Email)
			assert.ErrorIs(t, err, domain.ErrMailboxExpired)
		}
		assert.Equal(t, int64(0), env.usedQuota(t))
	})

	t.Run("过期邮箱的历史邮件仍可读取", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		_, err = env.messages.Deliver(ctx, DeliverInput{
			To:      created.Email,
			From:    "sender@example.com",
			Subject: "hello",
			Text:    "body",
		})
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)

		page, err := env.messages.List(ctx, created.ID, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("ReclaimExpired批量回收过期邮箱", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 3; i++ {
			_, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
			require.NoError(t, err)
		}
		require.Equal(t, int64(3), env.usedQuota(t))

		env.clock.Advance(2 * time.Hour)

		count, err := env.mailbox.ReclaimExpired(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Equal(t, int64(0), env.usedQuota(t))

		// 再跑一遍没有可回收的
		count, err = env.mailbox.ReclaimExpired(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestMailboxService_Destroy(t *testing.T) {
	ctx := context.Background()

	t.Run("销毁活跃邮箱释放配额并级联删除邮件", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		_, err = env.messages.Deliver(ctx, DeliverInput{
			To:   created.Email,
			From: "sender@example.com",
			Text: "body",
		})
		require.NoError(t, err)

		require.NoError(t, env.mailbox.Destroy(ctx, created.ID))
		assert.Equal(t, int64(0), env.usedQuota(t))

		_, err = env.store.GetMailbox(ctx, created.ID)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)

		// 缓存里的残影不会复活邮箱
		_, err = env.mailbox.Resolve(ctx, created.Email)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})

	t.Run("销毁已过期邮箱不重复释放配额", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)
		_, err = env.mailbox.Resolve(ctx, created.Email)
		assert.ErrorIs(t, err, domain.ErrMailboxExpired)
		require.Equal(t, int64(0), env.usedQuota(t))

		require.NoError(t, env.mailbox.Destroy(ctx, created.ID))
		assert.Equal(t, int64(0), env.usedQuota(t))
	})

	t.Run("并发销毁与解析恰好释放一次配额", func(t *testing.T) {
		// 销毁的释放决策必须基于恰好一次的 active→inactive 翻转，
		// 不能基于读快照：并发的解析可能在快照之后完成过期翻转并
		// 释放，两边都释放会让配额计数偏低。第二个邮箱占着配额，
		// 让重复释放无法被零下限钳制掩盖。
		env := newTestEnv(t)
		expiring, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)
		_, err = env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)
		require.Equal(t, int64(2), env.usedQuota(t))

		env.clock.Advance(2 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.mailbox.Resolve(ctx, expiring.Email)
		}()
		go func() {
			defer wg.Done()
			_ = env.mailbox.Destroy(ctx, expiring.ID)
		}()
		wg.Wait()

		// 过期释放与销毁释放只能发生其一，存活邮箱的占用不受影响
		assert.Equal(t, int64(1), env.usedQuota(t))
	})
}

func TestMessageService_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("投递到活跃邮箱", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		msg, err := env.messages.Deliver(ctx, DeliverInput{
			To:      created.Email,
			From:    "sender@example.com",
			Subject: "hi",
			Text:    "plain body",
			HTML:    "<p>html body</p>",
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID, msg.MailboxID)
		assert.True(t, msg.HasText)
		assert.True(t, msg.HasHTML)
		assert.False(t, msg.HasRaw)

		page, err := env.messages.List(ctx, created.ID, 1, 20)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "hi", page.Messages[0].Subject)
	})

	t.Run("投递到过期邮箱被拒绝", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)

		_, err = env.messages.Deliver(ctx, DeliverInput{
			To:   created.Email,
			From: "sender@example.com",
		})
		assert.ErrorIs(t, err, domain.ErrMailboxExpired)
	})

	t.Run("投递到不存在的地址被拒绝", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.messages.Deliver(ctx, DeliverInput{
			To:   "nobody@ephemail.test",
			From: "sender@example.com",
		})
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})

	t.Run("邮件计入配额时投递受限", func(t *testing.T) {
		env := newTestEnv(t)
		// 两个服务共享同一个配置实例
		env.mailbox.cfg.Quota.MessageWeight = 1

		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		// 邮箱占 1，剩 2 个单位给邮件
		for i := 0; i < 2; i++ {
			_, err = env.messages.Deliver(ctx, DeliverInput{
				To: created.Email, From: "s@example.com", Text: "x",
			})
			require.NoError(t, err)
		}

		_, err = env.messages.Deliver(ctx, DeliverInput{
			To: created.Email, From: "s@example.com", Text: "x",
		})
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

		// 删除一封邮件后恢复投递能力
		page, err := env.messages.List(ctx, created.ID, 1, 1)
		require.NoError(t, err)
		require.NoError(t, env.messages.Delete(ctx, created.ID, page.Messages[0].ID))

		_, err = env.messages.Deliver(ctx, DeliverInput{
			To: created.Email, From: "s@example.com", Text: "x",
		})
		assert.NoError(t, err)
	})
}

func TestMessageService_ReadPath(t *testing.T) {
	ctx := context.Background()

	t.Run("标记已读", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.mailbox.Create(ctx, CreateMailboxInput{UserID: "user-1"})
		require.NoError(t, err)

		msg, err := env.messages.Deliver(ctx, DeliverInput{
			To: created.Email, From: "s@example.com", Text: "x",
		})
		require.NoError(t, err)

		require.NoError(t, env.messages.MarkRead(ctx, created.ID, msg.ID))

		got, err := env.messages.Get(ctx, created.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.IsRead)
	})
}
