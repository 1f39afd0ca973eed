package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("agent-1", []string{"mcp-servers-finance/read", "mcp-servers-finance/execute"}, "", time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.Subject)
	assert.Equal(t, MethodIngressToken, p.Method)
	assert.True(t, p.HasScope("mcp-servers-finance/read"))
	assert.True(t, p.HasScope("mcp-servers-finance/execute"))
	assert.False(t, p.HasScope("mcp-registry-admin"))
}

func TestJWTVerifier_M2MClaim(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("svc-account", []string{"mcp-servers-unrestricted/execute"}, "svc-account", time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, MethodM2M, p.Method)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("agent-1", nil, "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	other := NewJWTVerifier([]byte("other-secret"))

	token, err := other.Generate("agent-1", nil, "", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": "mcp-servers-finance/read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = NewJWTVerifier(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_ArrayScopeClaim(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "agent-1",
		"scope": []string{"a", "b"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p, err := NewJWTVerifier(secret).Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Scopes)
}

func TestBearerFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("Authorization", "Bearer abc123")

	token, err := BearerFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestBearerFromRequest_Missing(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no scheme":    "abc123",
		"wrong scheme": "Basic abc123",
		"empty token":  "Bearer ",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/mcp", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			_, err := BearerFromRequest(r)
			assert.ErrorIs(t, err, ErrNoCredential)
		})
	}
}
