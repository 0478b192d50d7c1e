package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buddybot/buddybot/relay/auth"
)

func TestIssueAndValidate(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue(auth.Identity{UserID: "u1", Email: "kid@example.com", Username: "kid"})
	require.NoError(t, err)

	id, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, &auth.Identity{UserID: "u1", Email: "kid@example.com", Username: "kid"}, id)
}

func TestValidateExpired(t *testing.T) {
	m, err := NewManager("secret", time.Minute)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := m.Issue(auth.Identity{UserID: "u1"})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateWrongSecret(t *testing.T) {
	issuerManager, err := NewManager("one", time.Hour)
	require.NoError(t, err)
	other, err := NewManager("two", time.Hour)
	require.NoError(t, err)

	token, err := issuerManager.Issue(auth.Identity{UserID: "u1"})
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Validate(unsigned)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	m, err := NewManager("secret", 0)
	require.NoError(t, err)

	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := m.Validate(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, token)
	}
}

func TestNewManagerEmptySecret(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.Error(t, err)
}
