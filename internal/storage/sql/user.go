package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ephemail/backend/internal/domain"
)

// ========== User Repository ==========

// CreateUser 创建新用户，用户名冲突时返回 ErrUsernameExists。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		INSERT INTO users (id, username, password_hash, role, quota, quota_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Quota,
		user.QuotaUsed,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUsernameExists
		}
		return mapStoreErr(err)
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE lower(username) = lower(?)`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*domain.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT id, username, password_hash, role, quota, quota_used, created_at, last_login_at
		FROM users
	` + where)

	var user domain.User
	var lastLoginAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Quota,
		&user.QuotaUsed,
		&user.CreatedAt,
		&lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, mapStoreErr(err)
	}

	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}

	return &user, nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ========== Quota Repository ==========

// GetQuotaUsage 返回用户当前的配额占用。
func (s *Store) GetQuotaUsage(ctx context.Context, userID string) (domain.QuotaUsage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`SELECT quota_used, quota FROM users WHERE id = ?`)

	var usage domain.QuotaUsage
	usage.UserID = userID
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&usage.Used, &usage.Limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuotaUsage{}, domain.ErrUserNotFound
		}
		return domain.QuotaUsage{}, mapStoreErr(err)
	}
	return usage, nil
}

// TryReserveQuota 原子地尝试占用配额。
//
// 比较并递增由单条条件 UPDATE 完成，数据库的行锁保证并发
// 调用不会同时越过上限。RowsAffected 为 0 说明条件不满足
// （超限）或用户不存在，再读一次区分两种情况。
func (s *Store) TryReserveQuota(ctx context.Context, userID string, amount int64) (domain.QuotaUsage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		UPDATE users
		SET quota_used = quota_used + ?
		WHERE id = ? AND quota_used + ? <= quota
	`)
	result, err := s.db.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return domain.QuotaUsage{}, mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.QuotaUsage{}, mapStoreErr(err)
	}

	usage, usageErr := s.GetQuotaUsage(ctx, userID)
	if usageErr != nil {
		return domain.QuotaUsage{}, usageErr
	}

	if affected == 0 {
		return usage, domain.ErrQuotaExceeded
	}
	return usage, nil
}

// ReleaseQuota 释放配额，计数钳制到 0。
func (s *Store) ReleaseQuota(ctx context.Context, userID string, amount int64) (domain.QuotaUsage, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QuotaUsage{}, false, mapStoreErr(err)
	}
	defer tx.Rollback()

	// 行锁内读-改-写，钳制判断与更新保持一致
	var used, limit int64
	selectQuery := s.rebind(`SELECT quota_used, quota FROM users WHERE id = ? FOR UPDATE`)
	if err := tx.QueryRowContext(ctx, selectQuery, userID).Scan(&used, &limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuotaUsage{}, false, domain.ErrUserNotFound
		}
		return domain.QuotaUsage{}, false, mapStoreErr(err)
	}

	clamped := false
	newUsed := used - amount
	if newUsed < 0 {
		clamped = true
		newUsed = 0
	}

	updateQuery := s.rebind(`UPDATE users SET quota_used = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, updateQuery, newUsed, userID); err != nil {
		return domain.QuotaUsage{}, false, mapStoreErr(err)
	}

	if err := tx.Commit(); err != nil {
		return domain.QuotaUsage{}, false, mapStoreErr(err)
	}

	return domain.QuotaUsage{UserID: userID, Used: newUsed, Limit: limit}, clamped, nil
}
