package sql

import (
	"context"
	"time"

	"ephemail/backend/internal/domain"
)

// ========== Stats Repository ==========

// GetSystemStatistics 汇总系统统计信息。
//
// 结果由调用方放进 systemStats 缓存，这里不做任何缓存。
func (s *Store) GetSystemStatistics(ctx context.Context) (*domain.SystemStatistics, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := &domain.SystemStatistics{GeneratedAt: time.Now().UTC()}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mailboxes`).Scan(&stats.TotalMailboxes); err != nil {
		return nil, mapStoreErr(err)
	}

	activeQuery := s.rebind(`SELECT COUNT(*) FROM mailboxes WHERE is_active = true AND expires_at > ?`)
	if err := s.db.QueryRowContext(ctx, activeQuery, time.Now().UTC()).Scan(&stats.ActiveMailboxes); err != nil {
		return nil, mapStoreErr(err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return nil, mapStoreErr(err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	todayQuery := s.rebind(`SELECT COUNT(*) FROM messages WHERE received_at >= ?`)
	if err := s.db.QueryRowContext(ctx, todayQuery, today).Scan(&stats.MessagesToday); err != nil {
		return nil, mapStoreErr(err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(quota_used), 0) FROM users`).Scan(&stats.QuotaReserved); err != nil {
		return nil, mapStoreErr(err)
	}

	return stats, nil
}

// ========== Schema Repository ==========

// TableColumns 通过 information_schema 读取表结构。
//
// MySQL 与 PostgreSQL 的 information_schema.columns 足够兼容，
// 同一条查询对两种数据库都成立。
func (s *Store) TableColumns(ctx context.Context, table string) ([]domain.TableColumn, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = ?
		ORDER BY ordinal_position
	`)
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var columns []domain.TableColumn
	for rows.Next() {
		var col domain.TableColumn
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, mapStoreErr(err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	return columns, mapStoreErr(rows.Err())
}

// ========== RateLimit Repository ==========

// IncrementRateLimit 原子递增限流计数。
//
// 窗口起点编码在键里，过期行只是垃圾，顺手按概率清理。
func (s *Store) IncrementRateLimit(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	expiresAt := time.Now().UTC().Add(ttl)

	if s.isPostgres() {
		query := s.rebind(`
			INSERT INTO rate_limit_counters (counter_key, count, expires_at)
			VALUES (?, 1, ?)
			ON CONFLICT (counter_key) DO UPDATE SET count = rate_limit_counters.count + 1
			RETURNING count
		`)
		var count int64
		if err := s.db.QueryRowContext(ctx, query, key, expiresAt).Scan(&count); err != nil {
			return 0, mapStoreErr(err)
		}
		s.maybePruneCounters(ctx)
		return count, nil
	}

	// MySQL: LAST_INSERT_ID 技巧把更新后的计数带回来
	query := `
		INSERT INTO rate_limit_counters (counter_key, count, expires_at)
		VALUES (?, LAST_INSERT_ID(1), ?)
		ON DUPLICATE KEY UPDATE count = LAST_INSERT_ID(count + 1)
	`
	result, err := s.db.ExecContext(ctx, query, key, expiresAt)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	count, err := result.LastInsertId()
	if err != nil {
		return 0, mapStoreErr(err)
	}
	s.maybePruneCounters(ctx)
	return count, nil
}

// maybePruneCounters 清理过期计数行，失败只影响存储体积不影响正确性。
func (s *Store) maybePruneCounters(ctx context.Context) {
	if time.Now().UnixNano()%64 != 0 {
		return
	}
	query := s.rebind(`DELETE FROM rate_limit_counters WHERE expires_at < ?`)
	_, _ = s.db.ExecContext(ctx, query, time.Now().UTC())
}
