package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coverwise/authcore/internal/apikey"
	"github.com/coverwise/authcore/internal/cache"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/mtls"
	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/store/core"
	"github.com/coverwise/authcore/internal/store/memory"
)

type testEnv struct {
	handler http.Handler
	svc     *oauth.Server
	keys    *apikey.Manager
	store   core.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	key, err := jwtx.GenerateKey()
	require.NoError(t, err)

	reg := scope.MustDefaultRegistry()
	svc := oauth.NewServer(oauth.Deps{
		Store:  st,
		Cache:  cache.NewMemory("test:"),
		Issuer: jwtx.NewIssuer("https://auth.test", key),
		Scopes: reg,
	})
	keys := apikey.NewManager(apikey.Deps{Store: st, Scopes: reg})
	certs := mtls.NewManager(mtls.Deps{Store: st})

	h := NewRouter(RouterDeps{
		OAuth:  svc,
		Keys:   keys,
		Certs:  certs,
		Scopes: reg,
		Store:  st,
	})
	return &testEnv{handler: h, svc: svc, keys: keys, store: st}
}

func (e *testEnv) adminClient(t *testing.T, scopes []string) (clientID, secret string) {
	t.Helper()
	res, err := e.svc.CreateClient(context.Background(), oauth.CreateClientInput{
		Name:       "ops",
		Type:       core.ClientTypeConfidential,
		GrantTypes: []string{core.GrantClientCredentials},
		Scopes:     scopes,
		TokenTTL:   15 * time.Minute,
	})
	require.NoError(t, err)
	return res.Client.ClientID, res.ClientSecret
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestTokenEndpoint_ClientCredentials(t *testing.T) {
	env := newTestEnv(t)
	clientID, secret := env.adminClient(t, []string{"quote:read"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"quote:read"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tok oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Empty(t, tok.RefreshToken)

	// el token emitido introspecta activo
	rec = env.postForm("/oauth/introspect", url.Values{"token": {tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	var intro map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intro))
	require.Equal(t, true, intro["active"])
	require.Equal(t, clientID, intro["client_id"])
}

func TestTokenEndpoint_InvalidClient(t *testing.T) {
	env := newTestEnv(t)
	clientID, _ := env.adminClient(t, []string{"quote:read"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {"cws_wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_client", body["error"])
}

func TestAuthorizeEndpoint_UnknownScope(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.CreateClient(context.Background(), oauth.CreateClientInput{
		Name:         "spa",
		Type:         core.ClientTypePublic,
		GrantTypes:   []string{core.GrantAuthorizationCode},
		Scopes:       []string{"quote:read"},
		RedirectURIs: []string{"https://app.test/cb"},
		TokenTTL:     15 * time.Minute,
	})
	require.NoError(t, err)

	rec := env.postForm("/oauth/authorize", url.Values{
		"response_type": {"code"},
		"client_id":     {res.Client.ClientID},
		"redirect_uri":  {"https://app.test/cb"},
		"scope":         {"definitely:not-a-scope"},
		"user_id":       {"user-1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_scope", body["error"])
}

func TestTokenEndpoint_OutOfPolicyScope(t *testing.T) {
	env := newTestEnv(t)
	clientID, secret := env.adminClient(t, []string{"quote:read"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"policy:write"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_scope", body["error"])
}

func TestTokenEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/token", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "POST", rec.Header().Get("Allow"))
}

func TestRevokeEndpoint_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	clientID, secret := env.adminClient(t, []string{"quote:read"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"quote:read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var tok oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	for i := 0; i < 2; i++ {
		rec = env.postForm("/oauth/revoke", url.Values{"token": {tok.AccessToken}})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = env.postForm("/oauth/introspect", url.Values{"token": {tok.AccessToken}})
	var intro map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intro))
	require.Equal(t, false, intro["active"])
}

func TestAdmin_RequiresCredential(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/clients", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAdmin_BearerTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	clientID, secret := env.adminClient(t, []string{"clients:manage"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"clients:manage"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	req := httptest.NewRequest(http.MethodGet, "/admin/clients", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Clients []map[string]any `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Clients, 1)
	require.Equal(t, clientID, body.Clients[0]["client_id"])
}

func TestAdmin_InsufficientScope(t *testing.T) {
	env := newTestEnv(t)
	// clients:manage no alcanza para rutas de keys
	clientID, secret := env.adminClient(t, []string{"clients:manage"})

	rec := env.postForm("/oauth/token", url.Values{
		"grant_type":    {core.GrantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"clients:manage"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var tok oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	req := httptest.NewRequest(http.MethodGet, "/admin/clients/"+clientID+"/keys", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "insufficient_scope", body["error"])
}

func TestAdmin_APIKeyCredential(t *testing.T) {
	env := newTestEnv(t)
	clientID, _ := env.adminClient(t, []string{"clients:manage", "keys:manage"})

	res, err := env.keys.Create(context.Background(), apikey.CreateInput{
		Name:               "ops-key",
		ClientID:           clientID,
		Scopes:             []string{"keys:manage"},
		RateLimitPerMinute: 60,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/clients/"+clientID+"/keys", nil)
	req.Header.Set("X-API-Key", res.PlainKey)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-12345")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, "req-12345", rec.Header().Get("X-Request-ID"))

	// sin header entrante se genera uno
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
