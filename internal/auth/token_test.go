package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueAndParse(t *testing.T) {
	iss, err := NewIssuer(secret, "tss-coordinator", time.Hour)
	require.NoError(t, err)

	caller := Caller{UserID: uuid.New(), CustomerID: "acme"}
	token, err := iss.Issue(caller)
	require.NoError(t, err)

	got, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, caller, got)
}

func TestParse_Rejects(t *testing.T) {
	iss, err := NewIssuer(secret, "tss-coordinator", time.Hour)
	require.NoError(t, err)
	token, err := iss.Issue(Caller{UserID: uuid.New(), CustomerID: "acme"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewIssuer([]byte("another-secret-of-32-bytes-long!"), "tss-coordinator", time.Hour)
		require.NoError(t, err)
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewIssuer(secret, "someone-else", time.Hour)
		require.NoError(t, err)
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late, err := NewIssuer(secret, "tss-coordinator", time.Hour)
		require.NoError(t, err)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = late.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Issuer:    "tss-coordinator",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Parse(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	_, err := NewIssuer([]byte("short"), "x", time.Hour)
	assert.Error(t, err)
}
