package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ephemail/backend/internal/cache"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/storage"
)

var (
	// ErrSchemaUnsupported 当前存储不提供表结构自省。
	ErrSchemaUnsupported = errors.New("schema introspection not supported by this store")
	// ErrUnknownTable 请求了不在允许列表里的表。
	ErrUnknownTable = errors.New("unknown table")
)

// 允许自省的表，防止任意表名穿透到 information_schema 查询
var introspectableTables = map[string]struct{}{
	"users":       {},
	"mailboxes":   {},
	"messages":    {},
	"attachments": {},
}

// StatsService 提供系统统计与表结构查询。
//
// 两者都是重查询，结果进各自的缓存命名空间：统计走短 TTL，
// 表结构几乎不变走长 TTL。
type StatsService struct {
	store  storage.Store
	caches *cache.Manager
	log    *zap.Logger
}

// NewStatsService 创建统计服务。
func NewStatsService(store storage.Store, caches *cache.Manager, log *zap.Logger) *StatsService {
	return &StatsService{store: store, caches: caches, log: log}
}

// Overview 返回系统统计概览。
func (s *StatsService) Overview(ctx context.Context) (*domain.SystemStatistics, error) {
	const key = "overview"

	if val, ok := s.caches.Get(cache.SystemStats, key); ok {
		if stats, ok := val.(*domain.SystemStatistics); ok {
			return stats, nil
		}
		s.caches.Invalidate(cache.SystemStats, key)
	}

	stats, err := s.store.GetSystemStatistics(ctx)
	if err != nil {
		return nil, err
	}
	s.caches.Set(cache.SystemStats, key, stats, 0)
	return stats, nil
}

// CacheStats 返回各缓存命名空间的命中统计。
func (s *StatsService) CacheStats() map[string]cache.Stats {
	result := make(map[string]cache.Stats, len(cache.Namespaces()))
	for _, ns := range cache.Namespaces() {
		result[string(ns)] = s.caches.StatsFor(ns)
	}
	return result
}

// TableStructure 返回一张表的字段结构。
//
// 仅 SQL 存储支持；内存存储返回 ErrSchemaUnsupported。
func (s *StatsService) TableStructure(ctx context.Context, table string) ([]domain.TableColumn, error) {
	if _, ok := introspectableTables[table]; !ok {
		return nil, ErrUnknownTable
	}

	if val, ok := s.caches.Get(cache.TableStructure, table); ok {
		if columns, ok := val.([]domain.TableColumn); ok {
			return columns, nil
		}
		s.caches.Invalidate(cache.TableStructure, table)
	}

	schema, ok := s.store.(storage.SchemaRepository)
	if !ok {
		return nil, ErrSchemaUnsupported
	}

	columns, err := schema.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	s.caches.Set(cache.TableStructure, table, columns, 0)
	return columns, nil
}
