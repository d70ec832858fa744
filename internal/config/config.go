package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ephemail/backend/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义邮箱服务的核心业务配置
type MailboxConfig struct {
	AllowedDomains  []string      // 允许创建邮箱的域名列表
	TTL             time.Duration // 邮箱生存时间，创建时固定 expires_at = created_at + TTL
	AddressAttempts int           // 地址冲突时的重试上限
}

// CacheConfig 定义四个缓存命名空间各自的 TTL
//
// 缓存是建议性软状态：任何命名空间被清空都不得改变操作结果，只影响延迟。
type CacheConfig struct {
	TableStructureTTL time.Duration // 表结构：长生命周期，部署期内基本静态
	MailboxIDTTL      time.Duration // 邮箱查找：短 TTL，匹配请求突发
	UserQuotaTTL      time.Duration // 用户配额：短 TTL，配额写操作上主动失效
	SystemStatsTTL    time.Duration // 系统统计：中等 TTL，由调用方节奏刷新
}

// QuotaConfig 定义配额默认值与权重函数
type QuotaConfig struct {
	DefaultLimit  int64 // 新用户默认配额上限
	MailboxWeight int64 // 每个活跃邮箱占用的配额单位
	MessageWeight int64 // 每封邮件占用的配额单位（0 表示邮件不计入配额）
}

// RateLimitRule 定义一类路由的限流参数
type RateLimitRule struct {
	Limit  int64         // 窗口内允许的请求数
	Window time.Duration // 固定窗口长度
}

// RateLimitConfig 定义限流器配置
type RateLimitConfig struct {
	Enabled       bool
	FailurePolicy domain.FailurePolicy     // 计数存储不可用时：open 放行并告警 / closed 拒绝
	Rules         map[string]RateLimitRule // 按路由类别（create/resolve/read/mutate/deliver）
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr     string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain       string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxConns     int    // 最大并发连接数
	MaxConnsRate int    // 每秒最大新建连接数
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Driver          string        // 数据库类型: "mysql" 或 "postgres"，为空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
	Timeout         time.Duration // 单次存储调用超时，超时归类为 StoreUnavailable
}

// RedisConfig 定义 Redis 计数存储配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 作为限流计数存储
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// JWTConfig 定义访问令牌验证配置（令牌签发在系统边界之外）
type JWTConfig struct {
	Secret string // HMAC 签名密钥，必须至少 32 字符
	Issuer string // 期望的签发者标识
}

// StorageConfig 定义邮件内容文件存储配置
type StorageConfig struct {
	Path string // 原始邮件与附件的文件系统根目录
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Mailbox   MailboxConfig
	Cache     CacheConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	SMTP      SMTPConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: EPHEMAIL_
// 例如: EPHEMAIL_SERVER_HOST, EPHEMAIL_MAILBOX_TTL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("ephemail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mailbox.allowed_domains", "ephem.mail")
	v.SetDefault("mailbox.ttl", "10m")
	v.SetDefault("mailbox.address_attempts", 5)
	v.SetDefault("cache.table_structure_ttl", "24h")
	v.SetDefault("cache.mailbox_id_ttl", "30s")
	v.SetDefault("cache.user_quota_ttl", "30s")
	v.SetDefault("cache.system_stats_ttl", "5m")
	v.SetDefault("quota.default_limit", 3)
	v.SetDefault("quota.mailbox_weight", 1)
	v.SetDefault("quota.message_weight", 0)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.failure_policy", "open")
	v.SetDefault("ratelimit.create_limit", 10)
	v.SetDefault("ratelimit.create_window", "1m")
	v.SetDefault("ratelimit.resolve_limit", 60)
	v.SetDefault("ratelimit.resolve_window", "1m")
	v.SetDefault("ratelimit.read_limit", 120)
	v.SetDefault("ratelimit.read_window", "1m")
	v.SetDefault("ratelimit.mutate_limit", 30)
	v.SetDefault("ratelimit.mutate_window", "1m")
	v.SetDefault("ratelimit.deliver_limit", 300)
	v.SetDefault("ratelimit.deliver_window", "1m")
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "ephem.mail")
	v.SetDefault("smtp.max_conns", 100)
	v.SetDefault("smtp.max_conns_rate", 20)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.driver", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.timeout", "5s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "ephemail")
	v.SetDefault("storage.path", "./data/mail-storage")

	ttl, err := time.ParseDuration(v.GetString("mailbox.ttl"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("invalid mailbox.ttl: %q", v.GetString("mailbox.ttl"))
	}

	domainList := parseDomains(v.GetString("mailbox.allowed_domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.allowed_domains must not be empty")
	}

	attempts := v.GetInt("mailbox.address_attempts")
	if attempts <= 0 {
		attempts = 5
	}

	cacheCfg, err := loadCacheConfig(v)
	if err != nil {
		return nil, err
	}

	quotaCfg := QuotaConfig{
		DefaultLimit:  v.GetInt64("quota.default_limit"),
		MailboxWeight: v.GetInt64("quota.mailbox_weight"),
		MessageWeight: v.GetInt64("quota.message_weight"),
	}
	if quotaCfg.DefaultLimit <= 0 {
		return nil, fmt.Errorf("quota.default_limit must be positive")
	}
	if quotaCfg.MailboxWeight <= 0 {
		return nil, fmt.Errorf("quota.mailbox_weight must be positive")
	}
	if quotaCfg.MessageWeight < 0 {
		return nil, fmt.Errorf("quota.message_weight must not be negative")
	}

	rateCfg, err := loadRateLimitConfig(v)
	if err != nil {
		return nil, err
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}
	dbTimeout, err := time.ParseDuration(v.GetString("database.timeout"))
	if err != nil || dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}

	jwtSecret := v.GetString("jwt.secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("jwt.secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			AllowedDomains:  domainList,
			TTL:             ttl,
			AddressAttempts: attempts,
		},
		Cache:     cacheCfg,
		Quota:     quotaCfg,
		RateLimit: rateCfg,
		SMTP: SMTPConfig{
			BindAddr:     v.GetString("smtp.bind_addr"),
			Domain:       v.GetString("smtp.domain"),
			MaxConns:     v.GetInt("smtp.max_conns"),
			MaxConnsRate: v.GetInt("smtp.max_conns_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
			Timeout:         dbTimeout,
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: v.GetString("jwt.issuer"),
		},
		Storage: StorageConfig{
			Path: v.GetString("storage.path"),
		},
	}

	return cfg, nil
}

// loadCacheConfig 加载并校验四个缓存命名空间的 TTL
func loadCacheConfig(v *viper.Viper) (CacheConfig, error) {
	parse := func(key string) (time.Duration, error) {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v.GetString(key))
		}
		return d, nil
	}

	tableTTL, err := parse("cache.table_structure_ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	mailboxTTL, err := parse("cache.mailbox_id_ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	quotaTTL, err := parse("cache.user_quota_ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	statsTTL, err := parse("cache.system_stats_ttl")
	if err != nil {
		return CacheConfig{}, err
	}

	return CacheConfig{
		TableStructureTTL: tableTTL,
		MailboxIDTTL:      mailboxTTL,
		UserQuotaTTL:      quotaTTL,
		SystemStatsTTL:    statsTTL,
	}, nil
}

// loadRateLimitConfig 加载按路由类别的限流规则
func loadRateLimitConfig(v *viper.Viper) (RateLimitConfig, error) {
	policy := domain.FailurePolicy(v.GetString("ratelimit.failure_policy"))
	if !policy.Valid() {
		return RateLimitConfig{}, fmt.Errorf("invalid ratelimit.failure_policy: %q (expected open or closed)", policy)
	}

	rules := make(map[string]RateLimitRule)
	for _, class := range []string{"create", "resolve", "read", "mutate", "deliver"} {
		limit := v.GetInt64("ratelimit." + class + "_limit")
		window, err := time.ParseDuration(v.GetString("ratelimit." + class + "_window"))
		if err != nil || window <= 0 {
			return RateLimitConfig{}, fmt.Errorf("invalid ratelimit.%s_window", class)
		}
		if limit <= 0 {
			return RateLimitConfig{}, fmt.Errorf("ratelimit.%s_limit must be positive", class)
		}
		rules[class] = RateLimitRule{Limit: limit, Window: window}
	}

	return RateLimitConfig{
		Enabled:       v.GetBool("ratelimit.enabled"),
		FailurePolicy: policy,
		Rules:         rules,
	}, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从子目录运行的情况）
//
// 已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
