package credential

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("credential-test-key")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)
	return token
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("valid token", func(t *testing.T) {
		raw := signToken(t, jwt.MapClaims{"sub": "user-1", "exp": exp.Unix()})

		cred, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, cred.Raw())
		assert.Equal(t, "user-1", cred.Subject())
		assert.True(t, cred.ExpiresAt().Equal(exp))
		assert.False(t, cred.IsZero())
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		raw := signToken(t, jwt.MapClaims{"exp": exp.Unix()})

		cred, err := Parse("  " + raw + "\n")
		require.NoError(t, err)
		assert.Equal(t, raw, cred.Raw())
	})

	t.Run("expired token still decodes", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		raw := signToken(t, jwt.MapClaims{"exp": past.Unix()})

		cred, err := Parse(raw)
		require.NoError(t, err)
		assert.True(t, cred.Expired(time.Now()))
	})

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "opaque token", raw: "d41d8cd98f00b204e9800998ecf8427e"},
		{name: "two segments", raw: "abc.def"},
		{name: "garbage payload", raw: "eyJhbGciOiJIUzI1NiJ9.!!!.sig"},
		{name: "missing exp", raw: signToken(t, jwt.MapClaims{"sub": "user-1"})},
		{name: "non-numeric exp", raw: signToken(t, jwt.MapClaims{"exp": "tomorrow"})},
	}
	for _, tt := range tests {
		t.Run("malformed "+tt.name, func(t *testing.T) {
			cred, err := Parse(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			assert.True(t, cred.IsZero())
		})
	}
}

func TestParse_UnknownAlgorithmIsMalformed(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none-such","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":4102444800}`))

	_, err := Parse(header + "." + payload + ".sig")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCredential_Remaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := signToken(t, jwt.MapClaims{"exp": now.Add(2 * time.Hour).Unix()})

	cred, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cred.Remaining(now))
	assert.Equal(t, -time.Hour, cred.Remaining(now.Add(3*time.Hour)))
}

func TestCredential_StringRedactsToken(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	cred, err := Parse(raw)
	require.NoError(t, err)

	assert.NotContains(t, cred.String(), raw)
	assert.Contains(t, cred.String(), "alice")
	assert.Equal(t, "credential(none)", Credential{}.String())
}
