package identity

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, err := issuer.Mint(42, RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.True(t, p.IsAdmin())
}

func TestTokenIssuer_Parse_Rejections(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong_secret", func(t *testing.T) {
		other := NewTokenIssuer("another-secret", time.Hour)
		token, err := other.Mint(42, RoleCustomer)
		require.NoError(t, err)

		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		shortLived := NewTokenIssuer("test-secret", -time.Minute)
		token, err := shortLived.Mint(42, RoleCustomer)
		require.NoError(t, err)

		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown_role", func(t *testing.T) {
		token := mintRaw(t, "test-secret", "42", "superuser")
		_, err := issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("non_numeric_subject", func(t *testing.T) {
		token := mintRaw(t, "test-secret", "alice", string(RoleCustomer))
		_, err := issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unexpected_signing_method", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "42"})
		signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.Parse(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func mintRaw(t *testing.T, secret, subject, role string) string {
	t.Helper()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
