package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱生命周期指标
	MailboxesCreated   prometheus.Counter
	MailboxesExpired   prometheus.Counter
	MailboxesDestroyed prometheus.Counter
	MailboxesActive    prometheus.Gauge

	// 邮件指标
	MessagesDelivered prometheus.Counter
	MessagesRead      prometheus.Counter
	MessagesDeleted   prometheus.Counter

	// 缓存指标（按命名空间）
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// 配额指标
	QuotaReservations prometheus.Counter
	QuotaRejections   prometheus.Counter

	// 限流指标（按路由类别）
	RateLimitAllowed *prometheus.CounterVec
	RateLimitBlocked *prometheus.CounterVec

	// SMTP 指标
	SMTPConnections      prometheus.Gauge
	SMTPRejectedRcpts    prometheus.Counter
	SMTPDeliveryDuration prometheus.Histogram

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建所有监控指标并注册到默认注册表
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ephemail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesExpired: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_mailboxes_expired_total",
				Help: "Total number of mailboxes transitioned to expired",
			},
		),

		MailboxesDestroyed: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_mailboxes_destroyed_total",
				Help: "Total number of mailboxes destroyed",
			},
		),

		MailboxesActive: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ephemail_mailboxes_active",
				Help: "Number of active mailboxes",
			},
		),

		MessagesDelivered: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_messages_delivered_total",
				Help: "Total number of messages delivered",
			},
		),

		MessagesRead: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_messages_read_total",
				Help: "Total number of messages marked as read",
			},
		),

		MessagesDeleted: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_messages_deleted_total",
				Help: "Total number of messages deleted",
			},
		),

		CacheHits: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"namespace"},
		),

		CacheMisses: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"namespace"},
		),

		QuotaReservations: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_quota_reservations_total",
				Help: "Total number of successful quota reservations",
			},
		),

		QuotaRejections: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_quota_rejections_total",
				Help: "Total number of quota-exceeded rejections",
			},
		),

		RateLimitAllowed: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_rate_limit_allowed_total",
				Help: "Total number of requests allowed by the rate limiter",
			},
			[]string{"class"},
		),

		RateLimitBlocked: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_rate_limit_blocked_total",
				Help: "Total number of requests blocked by the rate limiter",
			},
			[]string{"class"},
		),

		SMTPConnections: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ephemail_smtp_connections",
				Help: "Number of active SMTP connections",
			},
		),

		SMTPRejectedRcpts: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_smtp_rejected_rcpts_total",
				Help: "Total number of rejected RCPT commands",
			},
		),

		SMTPDeliveryDuration: auto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ephemail_smtp_delivery_duration_seconds",
				Help:    "SMTP message delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ErrorsTotal: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ephemail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "ephemail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCacheStats 按差值补齐某个缓存命名空间的累计命中计数
//
// hits/misses 是缓存管理器导出的累计值，Prometheus 计数器只能递增，
// 所以这里与上次采样的快照做差。调用方保证单协程调用。
func (m *Metrics) RecordCacheStats(namespace string, hits, misses, prevHits, prevMisses int64) {
	if d := hits - prevHits; d > 0 {
		m.CacheHits.WithLabelValues(namespace).Add(float64(d))
	}
	if d := misses - prevMisses; d > 0 {
		m.CacheMisses.WithLabelValues(namespace).Add(float64(d))
	}
}

// RecordMailboxCreated 记录一次邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	m.MailboxesCreated.Inc()
	m.MailboxesActive.Inc()
}

// RecordMailboxExpired 记录一次过期翻转
//
// 调用方保证每个邮箱至多调用一次（对应恰好一次的
// active→inactive 翻转），活跃量随之递减。
func (m *Metrics) RecordMailboxExpired() {
	m.MailboxesExpired.Inc()
	m.MailboxesActive.Dec()
}

// RecordMailboxDestroyed 记录一次邮箱销毁
//
// wasActive 表示销毁的是仍活跃的邮箱；已过期的邮箱
// 在过期翻转时就离开了活跃量，不再重复递减。
func (m *Metrics) RecordMailboxDestroyed(wasActive bool) {
	m.MailboxesDestroyed.Inc()
	if wasActive {
		m.MailboxesActive.Dec()
	}
}

// RecordMessageDelivered 记录一次邮件投递
func (m *Metrics) RecordMessageDelivered() {
	m.MessagesDelivered.Inc()
}

// RecordMessageRead 记录一次邮件标记已读
func (m *Metrics) RecordMessageRead() {
	m.MessagesRead.Inc()
}

// RecordMessageDeleted 记录一次邮件删除
func (m *Metrics) RecordMessageDeleted() {
	m.MessagesDeleted.Inc()
}

// RecordQuotaReservation 记录一次成功的配额占用
func (m *Metrics) RecordQuotaReservation() {
	m.QuotaReservations.Inc()
}

// RecordQuotaRejection 记录一次配额超限拒绝
func (m *Metrics) RecordQuotaRejection() {
	m.QuotaRejections.Inc()
}

// SMTPConnectionOpened 记录 SMTP 连接建立
func (m *Metrics) SMTPConnectionOpened() {
	m.SMTPConnections.Inc()
}

// SMTPConnectionClosed 记录 SMTP 连接结束
func (m *Metrics) SMTPConnectionClosed() {
	m.SMTPConnections.Dec()
}

// RecordSMTPRejectedRcpt 记录一次被拒绝的 RCPT 命令
func (m *Metrics) RecordSMTPRejectedRcpt() {
	m.SMTPRejectedRcpts.Inc()
}

// ObserveSMTPDelivery 记录一次 SMTP DATA 处理耗时
func (m *Metrics) ObserveSMTPDelivery(duration time.Duration) {
	m.SMTPDeliveryDuration.Observe(duration.Seconds())
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimit 记录一次限流判定结果
func (m *Metrics) RecordRateLimit(class string, allowed bool) {
	if allowed {
		m.RateLimitAllowed.WithLabelValues(class).Inc()
	} else {
		m.RateLimitBlocked.WithLabelValues(class).Inc()
	}
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
