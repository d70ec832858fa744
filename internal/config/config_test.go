package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	t.Run("服务器默认配置", func(t *testing.T) {
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("邮箱默认配置", func(t *testing.T) {
		assert.Equal(t, []string{"ephem.mail"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 10*time.Minute, cfg.Mailbox.TTL)
		assert.Equal(t, 5, cfg.Mailbox.AddressAttempts)
	})

	t.Run("缓存命名空间TTL", func(t *testing.T) {
		assert.Equal(t, 24*time.Hour, cfg.Cache.TableStructureTTL)
		assert.Equal(t, 30*time.Second, cfg.Cache.MailboxIDTTL)
		assert.Equal(t, 30*time.Second, cfg.Cache.UserQuotaTTL)
		assert.Equal(t, 5*time.Minute, cfg.Cache.SystemStatsTTL)
	})

	t.Run("配额默认配置", func(t *testing.T) {
		assert.Equal(t, int64(3), cfg.Quota.DefaultLimit)
		assert.Equal(t, int64(1), cfg.Quota.MailboxWeight)
		assert.Equal(t, int64(0), cfg.Quota.MessageWeight)
	})

	t.Run("限流规则覆盖全部路由类别", func(t *testing.T) {
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, "open", string(cfg.RateLimit.FailurePolicy))
		for _, class := range []string{"create", "resolve", "read", "mutate", "deliver"} {
			rule, ok := cfg.RateLimit.Rules[class]
			assert.True(t, ok, "missing rule for %s", class)
			assert.Positive(t, rule.Limit)
			assert.Positive(t, rule.Window)
		}
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Run("环境变量覆盖邮箱TTL", func(t *testing.T) {
		t.Setenv("EPHEMAIL_MAILBOX_TTL", "600s")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 600*time.Second, cfg.Mailbox.TTL)
	})

	t.Run("非法TTL返回错误", func(t *testing.T) {
		t.Setenv("EPHEMAIL_MAILBOX_TTL", "not-a-duration")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("域名列表解析为小写", func(t *testing.T) {
		t.Setenv("EPHEMAIL_MAILBOX_ALLOWED_DOMAINS", "Temp.One, temp.two")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"temp.one", "temp.two"}, cfg.Mailbox.AllowedDomains)
	})

	t.Run("非法降级策略返回错误", func(t *testing.T) {
		t.Setenv("EPHEMAIL_RATELIMIT_FAILURE_POLICY", "maybe")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("降级策略可配置为fail-closed", func(t *testing.T) {
		t.Setenv("EPHEMAIL_RATELIMIT_FAILURE_POLICY", "closed")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "closed", string(cfg.RateLimit.FailurePolicy))
	})

	t.Run("过短的JWT密钥被拒绝", func(t *testing.T) {
		t.Setenv("EPHEMAIL_JWT_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("配额权重为零被拒绝", func(t *testing.T) {
		t.Setenv("EPHEMAIL_QUOTA_MAILBOX_WEIGHT", "0")

		_, err := Load()
		assert.Error(t, err)
	})
}
