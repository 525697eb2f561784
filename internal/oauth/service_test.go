package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coverwise/authcore/internal/cache"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/security/password"
	"github.com/coverwise/authcore/internal/store/core"
	"github.com/coverwise/authcore/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, core.Store, cache.Client) {
	t.Helper()
	key, err := jwtx.GenerateKey()
	require.NoError(t, err)

	st := memory.New()
	c := cache.NewMemory("test:")
	srv := NewServer(Deps{
		Store:  st,
		Cache:  c,
		Issuer: jwtx.NewIssuer("https://auth.test", key),
		Scopes: scope.MustDefaultRegistry(),
	})
	return srv, st, c
}

func createConfidential(t *testing.T, srv *Server, grants, scopes []string) (*core.Client, string) {
	t.Helper()
	res, err := srv.CreateClient(context.Background(), CreateClientInput{
		Name:       "backoffice",
		Type:       core.ClientTypeConfidential,
		GrantTypes: grants,
		Scopes:     scopes,
		TokenTTL:   15 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ClientSecret)
	return res.Client, res.ClientSecret
}

func createPublic(t *testing.T, srv *Server, grants, scopes, redirects []string) *core.Client {
	t.Helper()
	res, err := srv.CreateClient(context.Background(), CreateClientInput{
		Name:         "mobile-app",
		Type:         core.ClientTypePublic,
		GrantTypes:   grants,
		Scopes:       scopes,
		RedirectURIs: redirects,
		TokenTTL:     15 * time.Minute,
	})
	require.NoError(t, err)
	require.Empty(t, res.ClientSecret)
	return res.Client
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client := createPublic(t, srv,
		[]string{core.GrantAuthorizationCode, core.GrantRefreshToken},
		[]string{"quote:write", "policy:read"},
		[]string{"https://app.test/callback"})

	auth, err := srv.Authorize(ctx, AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.test/callback",
		Scope:               "quote:write",
		State:               "xyz",
		UserID:              "user-1",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: PKCEMethodS256,
	})
	require.NoError(t, err)
	require.NotEmpty(t, auth.Code)
	require.Equal(t, "xyz", auth.State)

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantAuthorizationCode,
		ClientID:     client.ClientID,
		Code:         auth.Code,
		RedirectURI:  "https://app.test/callback",
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)
	require.Equal(t, "Bearer", tok.TokenType)

	// el scope emitido trae el cierre transitivo
	require.Contains(t, tok.Scope, "quote:write")
	require.Contains(t, tok.Scope, "quote:read")

	ac, err := srv.ValidateAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, client.ClientID, ac.ClientID)
	require.Equal(t, "user-1", ac.Subject)
	require.Equal(t, jwtx.TokenTypeUser, ac.Type)
}

func TestAuthorizationCode_SingleUse(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client := createPublic(t, srv,
		[]string{core.GrantAuthorizationCode},
		[]string{"quote:read"},
		[]string{"https://app.test/cb"})

	auth, err := srv.Authorize(ctx, AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.test/cb",
		Scope:               "quote:read",
		UserID:              "user-1",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: PKCEMethodS256,
	})
	require.NoError(t, err)

	req := TokenRequest{
		GrantType:    core.GrantAuthorizationCode,
		ClientID:     client.ClientID,
		Code:         auth.Code,
		RedirectURI:  "https://app.test/cb",
		CodeVerifier: testVerifier,
	}
	_, err = srv.Token(ctx, req)
	require.NoError(t, err)

	// el segundo exchange del mismo code falla: consumo one-shot
	_, err = srv.Token(ctx, req)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizationCode_PKCE(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client := createPublic(t, srv,
		[]string{core.GrantAuthorizationCode},
		[]string{"quote:read"},
		[]string{"https://app.test/cb"})

	issue := func(t *testing.T, challenge, method string) string {
		auth, err := srv.Authorize(ctx, AuthorizeRequest{
			ResponseType:        "code",
			ClientID:            client.ClientID,
			RedirectURI:         "https://app.test/cb",
			Scope:               "quote:read",
			UserID:              "user-1",
			CodeChallenge:       challenge,
			CodeChallengeMethod: method,
		})
		require.NoError(t, err)
		return auth.Code
	}

	t.Run("wrong verifier rejected", func(t *testing.T) {
		code := issue(t, s256Challenge(testVerifier), PKCEMethodS256)
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantAuthorizationCode,
			ClientID:     client.ClientID,
			Code:         code,
			RedirectURI:  "https://app.test/cb",
			CodeVerifier: "completely-wrong-verifier-aaaaaaaaaaaaaaaaaaaaa",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("missing verifier rejected", func(t *testing.T) {
		code := issue(t, s256Challenge(testVerifier), PKCEMethodS256)
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:   core.GrantAuthorizationCode,
			ClientID:    client.ClientID,
			Code:        code,
			RedirectURI: "https://app.test/cb",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("verifier without challenge rejected", func(t *testing.T) {
		// el code se emitió sin PKCE; mandar verifier en el exchange no
		// puede "agregarlo" después
		code := issue(t, "", "")
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantAuthorizationCode,
			ClientID:     client.ClientID,
			Code:         code,
			RedirectURI:  "https://app.test/cb",
			CodeVerifier: testVerifier,
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("challenge without method rejected at authorize", func(t *testing.T) {
		_, err := srv.Authorize(ctx, AuthorizeRequest{
			ResponseType:  "code",
			ClientID:      client.ClientID,
			RedirectURI:   "https://app.test/cb",
			Scope:         "quote:read",
			UserID:        "user-1",
			CodeChallenge: s256Challenge(testVerifier),
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestAuthorize_RedirectURIMustMatchExactly(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client := createPublic(t, srv,
		[]string{core.GrantAuthorizationCode},
		[]string{"quote:read"},
		[]string{"https://app.test/cb"})

	_, err := srv.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     client.ClientID,
		RedirectURI:  "https://app.test/cb/extra",
		Scope:        "quote:read",
		UserID:       "user-1",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRefreshRotation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword, core.GrantRefreshToken},
		[]string{"quote:write", "policy:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:write policy:read",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tok.RefreshToken)

	refreshed, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RefreshToken: tok.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.RefreshToken)
	require.NotEqual(t, tok.RefreshToken, refreshed.RefreshToken)

	// el refresh token viejo quedó rotado: reusarlo es invalid_grant
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RefreshToken: tok.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)

	// el nuevo sigue vivo
	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RefreshToken: refreshed.RefreshToken,
	})
	require.NoError(t, err)
}

func TestRefresh_CannotWidenScope(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword, core.GrantRefreshToken},
		[]string{"quote:write", "policy:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:read",
	})
	require.NoError(t, err)

	t.Run("narrowing allowed", func(t *testing.T) {
		res, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantRefreshToken,
			ClientID:     client.ClientID,
			ClientSecret: secret,
			RefreshToken: tok.RefreshToken,
			Scope:        "quote:read",
		})
		require.NoError(t, err)
		tok = res
	})

	t.Run("widening rejected", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantRefreshToken,
			ClientID:     client.ClientID,
			ClientSecret: secret,
			RefreshToken: tok.RefreshToken,
			Scope:        "policy:read",
		})
		require.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestClientCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantClientCredentials},
		[]string{"ratetable:read", "quote:read"})

	t.Run("issues token without refresh", func(t *testing.T) {
		tok, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantClientCredentials,
			ClientID:     client.ClientID,
			ClientSecret: secret,
			Scope:        "ratetable:read",
		})
		require.NoError(t, err)
		require.NotEmpty(t, tok.AccessToken)
		require.Empty(t, tok.RefreshToken)

		ac, err := srv.ValidateAccessToken(ctx, tok.AccessToken)
		require.NoError(t, err)
		require.Equal(t, jwtx.TokenTypeClient, ac.Type)
		require.Empty(t, ac.Subject)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantClientCredentials,
			ClientID:     client.ClientID,
			ClientSecret: "cws_not-the-secret",
			Scope:        "ratetable:read",
		})
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("scope outside grant rejected", func(t *testing.T) {
		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantClientCredentials,
			ClientID:     client.ClientID,
			ClientSecret: secret,
			Scope:        "policy:write",
		})
		require.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestClientCredentials_UserScopeRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantClientCredentials},
		[]string{"claim:approve"})

	// claim:approve requiere un principal humano; un token de máquina no
	// puede llevarlo
	_, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantClientCredentials,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Scope:        "claim:approve",
	})
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestPasswordGrant_RequiresExplicitGrantType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantClientCredentials},
		[]string{"quote:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	_, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:read",
	})
	require.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestPasswordGrant_BadCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword},
		[]string{"quote:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	_, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "wrong",
		Scope:        "quote:read",
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestPublicClientCannotUseSecretGrants(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client := createPublic(t, srv,
		[]string{core.GrantAuthorizationCode, core.GrantClientCredentials},
		[]string{"quote:read"},
		[]string{"https://app.test/cb"})

	_, err := srv.Token(ctx, TokenRequest{
		GrantType: core.GrantClientCredentials,
		ClientID:  client.ClientID,
		Scope:     "quote:read",
	})
	require.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestIntrospect(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantClientCredentials},
		[]string{"quote:read"})

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantClientCredentials,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Scope:        "quote:read",
	})
	require.NoError(t, err)

	t.Run("active access token", func(t *testing.T) {
		res := srv.Introspect(ctx, tok.AccessToken, "")
		require.True(t, res.Active)
		require.Equal(t, client.ClientID, res.ClientID)
		require.Equal(t, "access_token", res.TokenType)
		require.Contains(t, res.Scope, "quote:read")
	})

	t.Run("garbage token is just inactive", func(t *testing.T) {
		res := srv.Introspect(ctx, "not-a-token", "")
		require.False(t, res.Active)
		require.Empty(t, res.ClientID)
	})

	t.Run("empty token is inactive", func(t *testing.T) {
		res := srv.Introspect(ctx, "", "")
		require.False(t, res.Active)
	})
}

func TestIntrospect_TokenTypeHint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword, core.GrantRefreshToken},
		[]string{"quote:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:read",
	})
	require.NoError(t, err)

	t.Run("refresh hint resolves refresh token", func(t *testing.T) {
		res := srv.Introspect(ctx, tok.RefreshToken, "refresh_token")
		require.True(t, res.Active)
		require.Equal(t, "refresh_token", res.TokenType)
		require.Equal(t, client.ClientID, res.ClientID)
	})

	t.Run("hint is just an ordering, not a filter", func(t *testing.T) {
		// access token con hint equivocado igual resuelve
		res := srv.Introspect(ctx, tok.AccessToken, "refresh_token")
		require.True(t, res.Active)
		require.Equal(t, "access_token", res.TokenType)

		// y viceversa
		res = srv.Introspect(ctx, tok.RefreshToken, "access_token")
		require.True(t, res.Active)
		require.Equal(t, "refresh_token", res.TokenType)
	})

	t.Run("unknown hint is ignored", func(t *testing.T) {
		res := srv.Introspect(ctx, tok.AccessToken, "saml-assertion")
		require.True(t, res.Active)
	})
}

func TestRevoke(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword, core.GrantRefreshToken},
		[]string{"quote:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:read",
	})
	require.NoError(t, err)

	t.Run("access token lands on revocation list", func(t *testing.T) {
		require.NoError(t, srv.Revoke(ctx, tok.AccessToken))

		_, err := srv.ValidateAccessToken(ctx, tok.AccessToken)
		require.Error(t, err)

		res := srv.Introspect(ctx, tok.AccessToken, "")
		require.False(t, res.Active)
	})

	t.Run("refresh token revoked in store", func(t *testing.T) {
		require.NoError(t, srv.Revoke(ctx, tok.RefreshToken))

		_, err := srv.Token(ctx, TokenRequest{
			GrantType:    core.GrantRefreshToken,
			ClientID:     client.ClientID,
			ClientSecret: secret,
			RefreshToken: tok.RefreshToken,
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		require.NoError(t, srv.Revoke(ctx, tok.AccessToken))
		require.NoError(t, srv.Revoke(ctx, tok.RefreshToken))
		require.NoError(t, srv.Revoke(ctx, "token-that-never-existed"))
	})
}

func TestDeactivateClientRevokesTokens(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantPassword, core.GrantRefreshToken},
		[]string{"quote:read"})
	seedUser(t, srv, "ana@test", "s3cret-pw")

	tok, err := srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantPassword,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Username:     "ana@test",
		Password:     "s3cret-pw",
		Scope:        "quote:read",
	})
	require.NoError(t, err)

	require.NoError(t, srv.DeactivateClient(ctx, client.ClientID))

	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RefreshToken: tok.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidClient)
}

func TestToken_MisconfiguredLifetime(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	client, secret := createConfidential(t, srv,
		[]string{core.GrantClientCredentials},
		[]string{"quote:read"})

	// forzar un client sin lifetime, como quedaría tras una migración rota
	stored, err := st.Clients().GetByClientID(ctx, client.ClientID)
	require.NoError(t, err)
	stored.TokenTTL = 0
	require.NoError(t, st.Clients().Update(ctx, stored))

	_, err = srv.Token(ctx, TokenRequest{
		GrantType:    core.GrantClientCredentials,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Scope:        "quote:read",
	})
	require.ErrorIs(t, err, ErrClientMisconfigured)
}

func seedUser(t *testing.T, srv *Server, email, plain string) {
	t.Helper()
	hash, err := password.Hash(password.Default, plain)
	require.NoError(t, err)
	err = srv.store.Users().Create(context.Background(), &core.User{
		ID:           "user-" + email,
		Email:        email,
		PasswordHash: &hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}
