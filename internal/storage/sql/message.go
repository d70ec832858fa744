package sql

import (
	"context"
	"database/sql"
	"errors"

	"ephemail/backend/internal/domain"
)

// ========== Message Repository ==========

// SaveMessage 保存邮件元数据及其附件记录。
//
// 邮件正文不进数据库，只保留 has_raw / has_html / has_text 标记，
// 内容由文件存储按需加载。
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO messages (id, mailbox_id, from_address, to_address, subject, is_read, received_at, has_raw, has_html, has_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, query,
		message.ID,
		message.MailboxID,
		message.From,
		message.To,
		message.Subject,
		message.IsRead,
		message.ReceivedAt,
		message.HasRaw,
		message.HasHTML,
		message.HasText,
	); err != nil {
		return mapStoreErr(err)
	}

	attQuery := s.rebind(`
		INSERT INTO attachments (id, message_id, filename, content_type, size, storage_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for _, att := range message.Attachments {
		if _, err := tx.ExecContext(ctx, attQuery,
			att.ID,
			att.MessageID,
			att.Filename,
			att.ContentType,
			att.Size,
			att.StoragePath,
		); err != nil {
			return mapStoreErr(err)
		}
	}

	return mapStoreErr(tx.Commit())
}

// ListMessages 返回某个邮箱下的分页邮件列表，按接收时间倒序。
func (s *Store) ListMessages(ctx context.Context, mailboxID string, page, pageSize int) (*domain.MessagePage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	countQuery := s.rebind(`SELECT COUNT(*) FROM messages WHERE mailbox_id = ?`)
	if err := s.db.QueryRowContext(ctx, countQuery, mailboxID).Scan(&total); err != nil {
		return nil, mapStoreErr(err)
	}

	offset := (page - 1) * pageSize
	query := s.rebind(`
		SELECT id, mailbox_id, from_address, to_address, subject, is_read, received_at, has_raw, has_html, has_text
		FROM messages
		WHERE mailbox_id = ?
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, mailboxID, pageSize, offset)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, pageSize)
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows.Scan, &msg); err != nil {
			return nil, mapStoreErr(err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}

	return &domain.MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetMessage 获取单封邮件及其附件记录。
func (s *Store) GetMessage(ctx context.Context, mailboxID, messageID string) (*domain.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`
		SELECT id, mailbox_id, from_address, to_address, subject, is_read, received_at, has_raw, has_html, has_text
		FROM messages
		WHERE mailbox_id = ? AND id = ?
	`)

	var msg domain.Message
	err := scanMessage(func(dest ...interface{}) error {
		return s.db.QueryRowContext(ctx, query, mailboxID, messageID).Scan(dest...)
	}, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, mapStoreErr(err)
	}

	attachments, err := s.listAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msg.Attachments = attachments

	return &msg, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(ctx context.Context, mailboxID, messageID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.rebind(`UPDATE messages SET is_read = true WHERE mailbox_id = ? AND id = ?`)
	result, err := s.db.ExecContext(ctx, query, mailboxID, messageID)
	if err != nil {
		return mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if affected == 0 {
		// 已读重复标记不报错，只有不存在才报错
		if _, err := s.GetMessage(ctx, mailboxID, messageID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage 删除单封邮件及其附件记录。
func (s *Store) DeleteMessage(ctx context.Context, mailboxID, messageID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM attachments WHERE message_id = ?`), messageID); err != nil {
		return mapStoreErr(err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE mailbox_id = ? AND id = ?`), mailboxID, messageID)
	if err != nil {
		return mapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if affected == 0 {
		return domain.ErrMessageNotFound
	}

	return mapStoreErr(tx.Commit())
}

func (s *Store) listAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	query := s.rebind(`
		SELECT id, message_id, filename, content_type, size, storage_path
		FROM attachments
		WHERE message_id = ?
	`)
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var attachments []*domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.ContentType,
			&att.Size,
			&att.StoragePath,
		); err != nil {
			return nil, mapStoreErr(err)
		}
		attachments = append(attachments, &att)
	}
	return attachments, mapStoreErr(rows.Err())
}

func scanMessage(scan func(dest ...interface{}) error, msg *domain.Message) error {
	return scan(
		&msg.ID,
		&msg.MailboxID,
		&msg.From,
		&msg.To,
		&msg.Subject,
		&msg.IsRead,
		&msg.ReceivedAt,
		&msg.HasRaw,
		&msg.HasHTML,
		&msg.HasText,
	)
}
