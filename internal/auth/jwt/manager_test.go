package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	m := NewManager("test-secret", "ephemail")

	t.Run("签发并验证令牌", func(t *testing.T) {
		token, err := m.GenerateToken("user-1", "admin", time.Hour)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		claims, err := m.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "admin", claims.Role)
		assert.Equal(t, "ephemail", claims.Issuer)
	})

	t.Run("过期令牌返回 ErrExpiredToken", func(t *testing.T) {
		token, err := m.GenerateToken("user-1", "user", -time.Minute)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("错误密钥返回 ErrInvalidToken", func(t *testing.T) {
		other := NewManager("other-secret", "ephemail")
		token, err := other.GenerateToken("user-1", "user", time.Hour)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("错误签发者返回 ErrInvalidToken", func(t *testing.T) {
		other := NewManager("test-secret", "someone-else")
		token, err := other.GenerateToken("user-1", "user", time.Hour)
		require.NoError(t, err)

		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("拒绝非 HMAC 签名算法", func(t *testing.T) {
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{UserID: "user-1"})
		signed, err := token.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("畸形令牌返回 ErrInvalidToken", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
