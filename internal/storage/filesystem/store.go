package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ephemail/backend/internal/domain"
)

// 邮件正文的存储形态（文件名即形态标识）
const (
	BodyRaw  = "raw.eml"
	BodyHTML = "body.html"
	BodyText = "body.txt"
)

// Store 邮件内容的文件系统存储
//
// 数据库只保存邮件元数据，原始内容、正文与附件都落在这里。
// 目录布局: {base}/mails/{mailboxID}/{messageID}/
type Store struct {
	basePath string
}

// NewStore 创建文件系统存储实例。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage base path is empty")
	}
	basePath = filepath.Clean(basePath)
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// SaveBody 保存一种形态的邮件正文。
func (s *Store) SaveBody(mailboxID, messageID, kind string, content []byte) error {
	dir := s.messagePath(mailboxID, messageID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create message directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, kind), content, 0644); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	return nil
}

// LoadBody 读取一种形态的邮件正文，不存在时返回 ErrMessageNotFound。
func (s *Store) LoadBody(mailboxID, messageID, kind string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.messagePath(mailboxID, messageID), kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return content, nil
}

// SaveAttachment 保存附件内容并返回相对存储路径。
func (s *Store) SaveAttachment(mailboxID, messageID string, att *domain.Attachment) (string, error) {
	dir := filepath.Join(s.messagePath(mailboxID, messageID), "attachments")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}

	file := filepath.Join(dir, safeFilename(att.ID, att.Filename))
	if err := os.WriteFile(file, att.Content, 0644); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}

	relPath, err := filepath.Rel(s.basePath, file)
	if err != nil {
		return file, nil
	}
	return relPath, nil
}

// LoadAttachment 按存储路径读取附件内容。
func (s *Store) LoadAttachment(storagePath string) ([]byte, error) {
	// 拒绝越出根目录的路径
	clean := filepath.Clean(storagePath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid attachment path: %s", storagePath)
	}

	content, err := os.ReadFile(filepath.Join(s.basePath, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment file not found")
		}
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return content, nil
}

// DeleteMessage 删除邮件的全部文件。
func (s *Store) DeleteMessage(mailboxID, messageID string) error {
	return os.RemoveAll(s.messagePath(mailboxID, messageID))
}

// DeleteMailbox 删除邮箱的全部邮件文件。
func (s *Store) DeleteMailbox(mailboxID string) error {
	return os.RemoveAll(filepath.Join(s.basePath, "mails", mailboxID))
}

func (s *Store) messagePath(mailboxID, messageID string) string {
	return filepath.Join(s.basePath, "mails", mailboxID, messageID)
}

// safeFilename 生成不会冲突或逃逸目录的附件文件名。
func safeFilename(attachmentID, original string) string {
	prefix := attachmentID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	base := filepath.Base(original)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || name == "." || name == ".." {
		name = "attachment"
	}

	return fmt.Sprintf("%s_%s", prefix, name)
}
