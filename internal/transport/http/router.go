package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "ephemail/backend/internal/auth/jwt"
	"ephemail/backend/internal/config"
	"ephemail/backend/internal/health"
	"ephemail/backend/internal/middleware"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/ratelimit"
	"ephemail/backend/internal/service"
	"ephemail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	StatsService   *service.StatsService
	QuotaEnforcer  *quota.Enforcer
	RateLimiter    *ratelimit.Limiter
	JWTManager     *jwtpkg.Manager
	WebSocketHub   *websocket.Hub
	Metrics        *monitoring.Metrics
	HealthChecker  *health.Checker
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitor := middleware.NewMonitoring(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(10 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时不能携带凭证
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	mailboxHandler := NewMailboxHandler(deps.MailboxService, deps.QuotaEnforcer)
	messageHandler := NewMessageHandler(deps.MailboxService, deps.MessageService)
	statsHandler := NewStatsHandler(deps.StatsService, deps.MailboxService)

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)
	rateLimit := middleware.NewRateLimit(deps.RateLimiter, deps.Config.RateLimit, deps.Metrics, deps.Logger)

	// 运维端点
	router.GET("/healthz", gin.WrapF(deps.HealthChecker.LiveEndpoint))
	router.GET("/readyz", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	v1 := router.Group("/v1")
	{
		// ========== Public Routes ==========
		v1.GET("/public/domains", func(c *gin.Context) {
			Success(c, gin.H{
				"domains": deps.Config.Mailbox.AllowedDomains,
				"count":   len(deps.Config.Mailbox.AllowedDomains),
			})
		})

		// 地址解析：公开端点，供投递方预检
		v1.GET("/mailboxes/resolve",
			jwtAuth.OptionalAuth(),
			rateLimit.ForClass(middleware.ClassResolve),
			mailboxHandler.resolveMailbox,
		)

		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes", jwtAuth.RequireAuth())
		{
			mailboxRoutes.POST("", rateLimit.ForClass(middleware.ClassCreate), mailboxHandler.createMailbox)
			mailboxRoutes.GET("", rateLimit.ForClass(middleware.ClassRead), mailboxHandler.listMailboxes)
			mailboxRoutes.GET("/:id", rateLimit.ForClass(middleware.ClassRead), mailboxHandler.getMailbox)
			mailboxRoutes.DELETE("/:id", rateLimit.ForClass(middleware.ClassMutate), mailboxHandler.destroyMailbox)

			mailboxRoutes.GET("/:id/messages", rateLimit.ForClass(middleware.ClassRead), messageHandler.listMessages)
			mailboxRoutes.GET("/:id/messages/:messageId", rateLimit.ForClass(middleware.ClassRead), messageHandler.getMessage)
			mailboxRoutes.POST("/:id/messages/:messageId/read", rateLimit.ForClass(middleware.ClassMutate), messageHandler.markMessageRead)
			mailboxRoutes.DELETE("/:id/messages/:messageId", rateLimit.ForClass(middleware.ClassMutate), messageHandler.deleteMessage)
			mailboxRoutes.GET("/:id/messages/:messageId/attachments/:attachmentId", rateLimit.ForClass(middleware.ClassRead), messageHandler.downloadAttachment)
		}

		// ========== Delivery Routes ==========
		// HTTP 投递入口，与 SMTP 入口共用同一条投递路径
		v1.POST("/messages",
			jwtAuth.OptionalAuth(),
			rateLimit.ForClass(middleware.ClassDeliver),
			messageHandler.deliverMessage,
		)

		// ========== Quota Routes ==========
		v1.GET("/quota", jwtAuth.RequireAuth(), rateLimit.ForClass(middleware.ClassRead), mailboxHandler.getQuota)

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin", jwtAuth.RequireAuth(), jwtAuth.RequireAdmin())
		{
			adminRoutes.GET("/stats", statsHandler.getOverview)
			adminRoutes.GET("/stats/cache", statsHandler.getCacheStats)
			adminRoutes.GET("/tables/:table/structure", statsHandler.getTableStructure)
			adminRoutes.POST("/maintenance/reclaim", statsHandler.reclaimExpired)
		}
	}

	return router
}
