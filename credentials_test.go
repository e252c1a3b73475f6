package carwings

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(Credential{AccessToken: "a1", RefreshToken: "r1"})
	assert.False(t, s.Credential().Empty())

	require.NoError(t, s.SetAccessToken("a2"))
	assert.Equal(t, Credential{AccessToken: "a2", RefreshToken: "r1"}, s.Credential())

	require.NoError(t, s.SetCredential(Credential{AccessToken: "a3", RefreshToken: "r3"}))
	assert.Equal(t, "r3", s.Credential().RefreshToken)

	require.NoError(t, s.Clear())
	assert.True(t, s.Credential().Empty())
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "42",
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	got, ok := Credential{AccessToken: tok}.AccessExpiry()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	t.Run("no exp claim", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "42"}).SignedString([]byte("k"))
		require.NoError(t, err)
		_, ok := Credential{AccessToken: tok}.AccessExpiry()
		assert.False(t, ok)
	})

	t.Run("opaque token", func(t *testing.T) {
		_, ok := Credential{AccessToken: "not-a-jwt"}.AccessExpiry()
		assert.False(t, ok)
	})

	t.Run("empty", func(t *testing.T) {
		_, ok := Credential{}.AccessExpiry()
		assert.False(t, ok)
	})
}
