package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemail/backend/internal/domain"
)

func TestStore_Body(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	t.Run("保存并读取三种形态的正文", func(t *testing.T) {
		require.NoError(t, store.SaveBody("mb-1", "msg-1", BodyRaw, []byte("raw content")))
		require.NoError(t, store.SaveBody("mb-1", "msg-1", BodyHTML, []byte("<p>html</p>")))
		require.NoError(t, store.SaveBody("mb-1", "msg-1", BodyText, []byte("text")))

		raw, err := store.LoadBody("mb-1", "msg-1", BodyRaw)
		require.NoError(t, err)
		assert.Equal(t, "raw content", string(raw))

		html, err := store.LoadBody("mb-1", "msg-1", BodyHTML)
		require.NoError(t, err)
		assert.Equal(t, "<p>html</p>", string(html))
	})

	t.Run("不存在的正文返回ErrMessageNotFound", func(t *testing.T) {
		_, err := store.LoadBody("mb-1", "missing", BodyRaw)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestStore_Attachment(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	t.Run("保存并按路径读取附件", func(t *testing.T) {
		att := &domain.Attachment{
			ID:       "att-12345678",
			Filename: "report.pdf",
			Content:  []byte("pdf bytes"),
		}
		path, err := store.SaveAttachment("mb-1", "msg-1", att)
		require.NoError(t, err)
		assert.NotEmpty(t, path)

		content, err := store.LoadAttachment(path)
		require.NoError(t, err)
		assert.Equal(t, "pdf bytes", string(content))
	})

	t.Run("危险文件名被清洗", func(t *testing.T) {
		att := &domain.Attachment{
			ID:       "att-2",
			Filename: "../../etc/passwd",
			Content:  []byte("x"),
		}
		path, err := store.SaveAttachment("mb-1", "msg-1", att)
		require.NoError(t, err)
		assert.NotContains(t, path, "..")
	})

	t.Run("拒绝越出根目录的读取路径", func(t *testing.T) {
		_, err := store.LoadAttachment("../outside")
		assert.Error(t, err)
	})
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveBody("mb-1", "msg-1", BodyRaw, []byte("a")))
	require.NoError(t, store.SaveBody("mb-1", "msg-2", BodyRaw, []byte("b")))

	t.Run("删除单封邮件", func(t *testing.T) {
		require.NoError(t, store.DeleteMessage("mb-1", "msg-1"))
		_, err := store.LoadBody("mb-1", "msg-1", BodyRaw)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)

		_, err = store.LoadBody("mb-1", "msg-2", BodyRaw)
		assert.NoError(t, err)
	})

	t.Run("删除整个邮箱", func(t *testing.T) {
		require.NoError(t, store.DeleteMailbox("mb-1"))
		_, err := store.LoadBody("mb-1", "msg-2", BodyRaw)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}
