package jwt_test

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	jwtx "github.com/coverwise/authcore/internal/jwt"
)

func newTestIssuer(t *testing.T) *jwtx.Issuer {
	t.Helper()
	key, err := jwtx.GenerateKey()
	require.NoError(t, err)
	return jwtx.NewIssuer("https://auth.test", key)
}

func TestIssueAccess_RoundTrip(t *testing.T) {
	iss := newTestIssuer(t)

	signed, ac, err := iss.IssueAccess("client-1", "user-1", []string{"quote:read", "quote:write"}, jwtx.TokenTypeUser, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, ac.JTI)

	got, err := iss.ParseAndVerify(signed)
	require.NoError(t, err)
	require.Equal(t, ac.JTI, got.JTI)
	require.Equal(t, "client-1", got.ClientID)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, []string{"quote:read", "quote:write"}, got.Scopes)
	require.Equal(t, jwtx.TokenTypeUser, got.Type)
}

func TestIssueAccess_RequiresLifetime(t *testing.T) {
	iss := newTestIssuer(t)
	_, _, err := iss.IssueAccess("client-1", "", []string{"quote:read"}, jwtx.TokenTypeClient, 0)
	require.ErrorIs(t, err, jwtx.ErrNoLifetime)
}

func TestParseAndVerify_RejectsForeignKey(t *testing.T) {
	issA := newTestIssuer(t)
	issB := newTestIssuer(t)

	signed, _, err := issA.IssueAccess("client-1", "", []string{"quote:read"}, jwtx.TokenTypeClient, time.Minute)
	require.NoError(t, err)

	_, err = issB.ParseAndVerify(signed)
	require.ErrorIs(t, err, jwtx.ErrInvalidToken)
}

func TestParseAndVerify_RejectsExpired(t *testing.T) {
	key, err := jwtx.GenerateKey()
	require.NoError(t, err)
	iss := jwtx.NewIssuer("https://auth.test", key)

	// Token firmado a mano, ya expirado
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss":       "https://auth.test",
		"jti":       "jti-1",
		"client_id": "client-1",
		"scope":     "quote:read",
		"typ":       jwtx.TokenTypeClient,
		"iat":       now.Add(-2 * time.Minute).Unix(),
		"exp":       now.Add(-time.Minute).Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = key.KID
	signed, err := tk.SignedString(key.Private)
	require.NoError(t, err)

	_, err = iss.ParseAndVerify(signed)
	require.ErrorIs(t, err, jwtx.ErrInvalidToken)
}

func TestKeyFromSeed_Deterministic(t *testing.T) {
	seed := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" // 32 bytes base64url
	k1, err := jwtx.KeyFromSeed("kid-1", seed)
	require.NoError(t, err)
	k2, err := jwtx.KeyFromSeed("kid-1", seed)
	require.NoError(t, err)
	require.Equal(t, k1.Public, k2.Public)
}
