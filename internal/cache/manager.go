package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"ephemail/backend/internal/config"
)

// Namespace 缓存命名空间标识
type Namespace string

// 四个相互独立的缓存命名空间，各自有独立的键空间与 TTL 策略。
const (
	TableStructure Namespace = "tableStructure" // 表结构，部署期内基本静态
	MailboxIDs     Namespace = "mailboxIds"     // 地址 -> 邮箱记录
	UserQuotas     Namespace = "userQuotas"     // 用户ID -> 配额占用快照
	SystemStats    Namespace = "systemStats"    // 系统统计快照
)

// Namespaces 返回全部命名空间，用于初始化与指标注册。
func Namespaces() []Namespace {
	return []Namespace{TableStructure, MailboxIDs, UserQuotas, SystemStats}
}

// entry 单个缓存条目，插入时刻与 TTL 一起决定过期
type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry) expiredAt(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// Stats 命名空间的命中统计
type Stats struct {
	Hits   int64
	Misses int64
}

// namespaceCache 一个命名空间的存储与默认 TTL
type namespaceCache struct {
	data       sync.Map
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

// Manager 进程内缓存管理器
//
// 四个命名空间完全独立，所有操作都是单键原子的，任意交错都安全；
// 不依赖两个缓存操作被一起观察到。条目是软状态：整个缓存随时可能
// 丢失（进程重启后为空），持久存储始终是权威来源，因此命中与否
// 只影响延迟，不影响结果。
//
// 惰性过期：Get 在读取时检查条目年龄，超过 TTL 视为未命中并删除。
// 宿主环境不保证常驻后台线程，所以没有清理协程。
type Manager struct {
	namespaces map[Namespace]*namespaceCache
	now        func() time.Time
}

// NewManager 按配置创建缓存管理器
func NewManager(cfg config.CacheConfig) *Manager {
	return &Manager{
		namespaces: map[Namespace]*namespaceCache{
			TableStructure: {defaultTTL: cfg.TableStructureTTL},
			MailboxIDs:     {defaultTTL: cfg.MailboxIDTTL},
			UserQuotas:     {defaultTTL: cfg.UserQuotaTTL},
			SystemStats:    {defaultTTL: cfg.SystemStatsTTL},
		},
		now: time.Now,
	}
}

// WithClock 替换时间源，仅用于测试。
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Get 读取缓存值
//
// 过期条目视为未命中并被删除。返回 false 时调用方必须回源
// 持久存储，绝不能把未命中当作业务上的"不存在"。
func (m *Manager) Get(ns Namespace, key string) (interface{}, bool) {
	nc, ok := m.namespaces[ns]
	if !ok {
		return nil, false
	}

	val, ok := nc.data.Load(key)
	if !ok {
		nc.misses.Add(1)
		return nil, false
	}

	e := val.(*entry)
	if e.expiredAt(m.now()) {
		nc.data.Delete(key)
		nc.misses.Add(1)
		return nil, false
	}

	nc.hits.Add(1)
	return e.value, true
}

// Set 写入缓存值
//
// ttl 为 0 时使用命名空间的默认 TTL。
func (m *Manager) Set(ns Namespace, key string, value interface{}, ttl time.Duration) {
	nc, ok := m.namespaces[ns]
	if !ok {
		return
	}
	if ttl == 0 {
		ttl = nc.defaultTTL
	}

	nc.data.Store(key, &entry{
		value:      value,
		insertedAt: m.now(),
		ttl:        ttl,
	})
}

// Invalidate 删除单个缓存条目
func (m *Manager) Invalidate(ns Namespace, key string) {
	if nc, ok := m.namespaces[ns]; ok {
		nc.data.Delete(key)
	}
}

// InvalidateAll 清空一个命名空间
func (m *Manager) InvalidateAll(ns Namespace) {
	nc, ok := m.namespaces[ns]
	if !ok {
		return
	}
	nc.data.Range(func(key, _ interface{}) bool {
		nc.data.Delete(key)
		return true
	})
}

// DefaultTTL 返回命名空间的默认 TTL。
func (m *Manager) DefaultTTL(ns Namespace) time.Duration {
	if nc, ok := m.namespaces[ns]; ok {
		return nc.defaultTTL
	}
	return 0
}

// StatsFor 返回命名空间的命中统计。
func (m *Manager) StatsFor(ns Namespace) Stats {
	nc, ok := m.namespaces[ns]
	if !ok {
		return Stats{}
	}
	return Stats{
		Hits:   nc.hits.Load(),
		Misses: nc.misses.Load(),
	}
}
