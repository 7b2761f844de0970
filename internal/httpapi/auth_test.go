package httpapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), expiresAt, time.Minute)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "test-client", claims.ClientID)
	assert.False(t, claims.IsAdmin)

	claims, err = auth.ValidateToken("Bearer " + token)
	require.NoError(t, err, "bearer prefix is accepted")
	assert.Equal(t, "test-client", claims.ClientID)

	_, err = auth.ValidateToken("invalid-token")
	assert.Error(t, err)
	_, err = auth.ValidateToken("")
	assert.Error(t, err)
}

func TestJWTAuth_Admin(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, _, err := auth.GenerateToken("admin", true)
	require.NoError(t, err)
	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.Equal(t, "admin", claims.Subject)
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	_, _, err := auth.GenerateToken("", false)
	assert.Error(t, err, "empty client id")

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTAuth("other-secret", time.Hour)
		token, _, err := other.GenerateToken("client", false)
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := NewJWTAuth("test-secret", time.Nanosecond).GenerateToken("client", false)
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := JWTClaims{
			ClientID: "client",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("no expiry", func(t *testing.T) {
		claims := JWTClaims{
			ClientID:         "client",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})
}
