package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmail(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := []byte("From: a@example.com\r\n" +
			"To: b@ephemail.test\r\n" +
			"Subject: hello\r\n" +
			"\r\n" +
			"plain body\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "hello", parsed.Subject)
		assert.Contains(t, parsed.Text, "plain body")
		assert.Empty(t, parsed.HTML)
	})

	t.Run("multipart邮件带附件", func(t *testing.T) {
		raw := []byte("From: a@example.com\r\n" +
			"To: b@ephemail.test\r\n" +
			"Subject: mixed\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/mixed; boundary=\"BOUND\"\r\n" +
			"\r\n" +
			"--BOUND\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"text part\r\n" +
			"--BOUND\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<p>html part</p>\r\n" +
			"--BOUND\r\n" +
			"Content-Type: application/octet-stream\r\n" +
			"Content-Disposition: attachment; filename=\"data.bin\"\r\n" +
			"Content-Transfer-Encoding: base64\r\n" +
			"\r\n" +
			"aGVsbG8=\r\n" +
			"--BOUND--\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "text part")
		assert.Contains(t, parsed.HTML, "html part")
		require.Len(t, parsed.Attachments, 1)
		assert.Equal(t, "data.bin", parsed.Attachments[0].Filename)
		assert.Equal(t, []byte("hello"), parsed.Attachments[0].Content)
	})

	t.Run("RFC2047编码的主题被解码", func(t *testing.T) {
		raw := []byte("From: a@example.com\r\n" +
			"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
			"\r\n" +
			"body\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
	})

	t.Run("quoted-printable正文被解码", func(t *testing.T) {
		raw := []byte("From: a@example.com\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"Content-Transfer-Encoding: quoted-printable\r\n" +
			"\r\n" +
			"caf=C3=A9\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "café")
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发连接数受限", func(t *testing.T) {
		limiter := NewConnectionLimiter(2, 100)

		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())

		limiter.Release()
		assert.True(t, limiter.Acquire())
		assert.Equal(t, 2, limiter.Current())
	})

	t.Run("新建连接速率受限", func(t *testing.T) {
		limiter := NewConnectionLimiter(100, 1)

		assert.True(t, limiter.Acquire())
		limiter.Release()
		// 令牌桶容量为 1，立刻再取应失败
		assert.False(t, limiter.Acquire())
	})
}
