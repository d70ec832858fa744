package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func TestMetrics_MailboxLifecycle(t *testing.T) {
	t.Run("创建与过期驱动活跃量", func(t *testing.T) {
		m := newTestMetrics()

		m.RecordMailboxCreated()
		m.RecordMailboxCreated()
		m.RecordMailboxExpired()

		assert.Equal(t, float64(2), testutil.ToFloat64(m.MailboxesCreated))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxesExpired))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxesActive))
	})

	t.Run("销毁活跃邮箱递减活跃量", func(t *testing.T) {
		m := newTestMetrics()

		m.RecordMailboxCreated()
		m.RecordMailboxDestroyed(true)

		assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxesDestroyed))
		assert.Equal(t, float64(0), testutil.ToFloat64(m.MailboxesActive))
	})

	t.Run("销毁已过期邮箱不重复递减", func(t *testing.T) {
		m := newTestMetrics()

		m.RecordMailboxCreated()
		m.RecordMailboxExpired()
		m.RecordMailboxDestroyed(false)

		assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxesDestroyed))
		assert.Equal(t, float64(0), testutil.ToFloat64(m.MailboxesActive))
	})
}

func TestMetrics_Messages(t *testing.T) {
	m := newTestMetrics()

	m.RecordMessageDelivered()
	m.RecordMessageDelivered()
	m.RecordMessageRead()
	m.RecordMessageDeleted()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.MessagesDelivered))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesRead))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesDeleted))
}

func TestMetrics_Quota(t *testing.T) {
	m := newTestMetrics()

	m.RecordQuotaReservation()
	m.RecordQuotaRejection()
	m.RecordQuotaRejection()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.QuotaReservations))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.QuotaRejections))
}

func TestMetrics_SMTP(t *testing.T) {
	m := newTestMetrics()

	m.SMTPConnectionOpened()
	m.SMTPConnectionOpened()
	m.SMTPConnectionClosed()
	m.RecordSMTPRejectedRcpt()
	m.ObserveSMTPDelivery(50 * time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SMTPConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SMTPRejectedRcpts))

	pb := &dto.Metric{}
	require.NoError(t, m.SMTPDeliveryDuration.Write(pb))
	assert.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
}

func TestMetrics_RateLimit(t *testing.T) {
	m := newTestMetrics()

	m.RecordRateLimit("create", true)
	m.RecordRateLimit("create", false)
	m.RecordRateLimit("deliver", true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitAllowed.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitAllowed.WithLabelValues("deliver")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitBlocked.WithLabelValues("create")))
}

func TestMetrics_CacheStats(t *testing.T) {
	m := newTestMetrics()

	// 累计值与上次快照做差，只补齐增量
	m.RecordCacheStats("mailboxIds", 10, 4, 0, 0)
	m.RecordCacheStats("mailboxIds", 15, 4, 10, 4)

	assert.Equal(t, float64(15), testutil.ToFloat64(m.CacheHits.WithLabelValues("mailboxIds")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.CacheMisses.WithLabelValues("mailboxIds")))
}
