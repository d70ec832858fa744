package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ephemail/backend/internal/domain"
)

// ========== Mailbox Repository ==========

// SaveMailbox 保存邮箱，地址冲突时返回 ErrEmailExists。
func (s *Store) SaveMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		INSERT INTO mailboxes (id, email, user_id, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		mailbox.ID,
		mailbox.Email,
		mailbox.UserID,
		mailbox.CreatedAt,
		mailbox.ExpiresAt,
		mailbox.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailExists
		}
		return mapStoreErr(err)
	}
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	return s.getMailbox(ctx, `WHERE id = ?`, id)
}

// GetMailboxByEmail 根据完整地址获取邮箱。
func (s *Store) GetMailboxByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	return s.getMailbox(ctx, `WHERE email = ?`, email)
}

func (s *Store) getMailbox(ctx context.Context, where string, arg interface{}) (*domain.Mailbox, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT id, email, user_id, created_at, expires_at, is_active
		FROM mailboxes
	` + where)

	var mb domain.Mailbox
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&mb.ID,
		&mb.Email,
		&mb.UserID,
		&mb.CreatedAt,
		&mb.ExpiresAt,
		&mb.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMailboxNotFound
		}
		return nil, mapStoreErr(err)
	}
	return &mb, nil
}

// MarkMailboxInactive 将 is_active 置为 false。
//
// 条件 UPDATE 保证翻转恰好发生一次，并发观察者里只有
// 一个会拿到 flipped=true。
func (s *Store) MarkMailboxInactive(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`UPDATE mailboxes SET is_active = false WHERE id = ? AND is_active = true`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, mapStoreErr(err)
	}
	if affected == 0 {
		// 可能已经是 inactive；区分"不存在"需要再查一次
		if _, err := s.GetMailbox(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListMailboxesByUserID 返回指定用户的全部邮箱，按创建时间排序。
func (s *Store) ListMailboxesByUserID(ctx context.Context, userID string) ([]domain.Mailbox, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT id, email, user_id, created_at, expires_at, is_active
		FROM mailboxes
		WHERE user_id = ?
		ORDER BY created_at ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	return scanMailboxes(rows)
}

// DeleteMailbox 删除邮箱并级联删除其邮件与附件。
func (s *Store) DeleteMailbox(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM attachments
		WHERE message_id IN (SELECT id FROM messages WHERE mailbox_id = ?)
	`), id); err != nil {
		return mapStoreErr(err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE mailbox_id = ?`), id); err != nil {
		return mapStoreErr(err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM mailboxes WHERE id = ?`), id)
	if err != nil {
		return mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if affected == 0 {
		return domain.ErrMailboxNotFound
	}

	return mapStoreErr(tx.Commit())
}

// ListExpiredActiveMailboxes 返回已过期但 is_active 仍为 true 的邮箱。
func (s *Store) ListExpiredActiveMailboxes(ctx context.Context, now time.Time, limit int) ([]domain.Mailbox, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT id, email, user_id, created_at, expires_at, is_active
		FROM mailboxes
		WHERE is_active = true AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	return scanMailboxes(rows)
}

func scanMailboxes(rows *sql.Rows) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	for rows.Next() {
		var mb domain.Mailbox
		if err := rows.Scan(
			&mb.ID,
			&mb.Email,
			&mb.UserID,
			&mb.CreatedAt,
			&mb.ExpiresAt,
			&mb.IsActive,
		); err != nil {
			return nil, mapStoreErr(err)
		}
		mailboxes = append(mailboxes, mb)
	}
	return mailboxes, mapStoreErr(rows.Err())
}
