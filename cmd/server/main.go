package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "ephemail/backend/internal/auth/jwt"
	"ephemail/backend/internal/cache"
	"ephemail/backend/internal/config"
	"ephemail/backend/internal/health"
	"ephemail/backend/internal/logger"
	"ephemail/backend/internal/monitoring"
	"ephemail/backend/internal/quota"
	"ephemail/backend/internal/ratelimit"
	"ephemail/backend/internal/service"
	"ephemail/backend/internal/smtp"
	"ephemail/backend/internal/storage"
	"ephemail/backend/internal/storage/filesystem"
	"ephemail/backend/internal/storage/memory"
	redisstore "ephemail/backend/internal/storage/redis"
	sqlstore "ephemail/backend/internal/storage/sql"
	httptransport "ephemail/backend/internal/transport/http"
	"ephemail/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 接收的邮箱生命周期服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting ephemail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
		zap.Duration("mailbox_ttl", cfg.Mailbox.TTL),
	)

	// 持久存储：配置了数据库用 SQL，否则内存存储（开发环境）
	var store storage.Store
	if cfg.Database.Driver != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Driver,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
			cfg.Database.Timeout,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("driver", cfg.Database.Driver))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 缓存与配额
	caches := cache.NewManager(cfg.Cache)
	enforcer := quota.NewEnforcer(store, caches, log)

	// 限流计数存储：Redis 优先，未启用时退回持久存储的计数器表
	var rateLimitCounters storage.RateLimitRepository = store
	var redisCounters *redisstore.CounterStore
	if cfg.Redis.Enabled {
		redisCounters, err = redisstore.NewCounterStore(cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to redis: %v", err))
		}
		defer redisCounters.Close()
		rateLimitCounters = redisCounters
		log.Info("using redis rate limit counters", zap.String("address", cfg.Redis.Address))
	}
	limiter := ratelimit.New(rateLimitCounters, cfg.RateLimit.FailurePolicy, log)

	// 邮件内容文件存储
	fsStore, err := filesystem.NewStore(cfg.Storage.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize filesystem storage: %v", err))
	}
	log.Info("filesystem storage initialized", zap.String("path", cfg.Storage.Path))

	// 服务层
	mailboxService := service.NewMailboxService(store, enforcer, caches, cfg, log)
	mailboxService.SetFileStore(fsStore)
	messageService := service.NewMessageService(store, mailboxService, enforcer, cfg, log)
	messageService.SetFileStore(fsStore)
	statsService := service.NewStatsService(store, caches, log)

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)

	// WebSocket 推送
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, store, log)
	messageService.SetNotifier(wsHub)

	// 监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, redisCounters)
	enforcer.SetMetrics(metrics)
	mailboxService.SetMetrics(metrics)
	messageService.SetMetrics(metrics)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		MessageService: messageService,
		StatsService:   statsService,
		QuotaEnforcer:  enforcer,
		RateLimiter:    limiter,
		JWTManager:     jwtManager,
		WebSocketHub:   wsHub,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 接收服务器
	connLimiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxConnsRate)
	smtpBackend := smtp.NewBackend(mailboxService, messageService, connLimiter, log)
	smtpBackend.SetMetrics(metrics)
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = 10 * 1024 * 1024
	smtpServer.MaxRecipients = 50

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 定时回收过期邮箱占用的配额；惰性过期始终是权威路径，
	// 这个任务只是收尾从未被再次访问的邮箱。
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Info("starting quota reclamation task", zap.Duration("interval", 1*time.Hour))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("quota reclamation task stopped")
				return nil
			case <-ticker.C:
				count, err := mailboxService.ReclaimExpired(groupCtx, 100)
				if err != nil {
					log.Error("failed to reclaim expired mailboxes", zap.Error(err))
				} else if count > 0 {
					log.Info("expired mailboxes reclaimed", zap.Int("count", count))
				}
			}
		}
	})

	// 定期把缓存命中统计导出到 Prometheus
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		prev := make(map[string]cache.Stats)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				for name, stats := range statsService.CacheStats() {
					p := prev[name]
					metrics.RecordCacheStats(name, stats.Hits, stats.Misses, p.Hits, p.Misses)
					prev[name] = stats
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
